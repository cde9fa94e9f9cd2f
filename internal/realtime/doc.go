// Package realtime maintains the push connection to the event server.
//
// # Overview
//
// The Client owns a single WebSocket session at a time and a small state
// machine around it:
//
//	Disconnected → Connecting → Connected
//	Connected → Reconnecting        (server close or transport error)
//	Reconnecting → Connected        (redial succeeded, error count reset)
//	Reconnecting → PermanentlyFailed (error threshold reached)
//	PermanentlyFailed → Connecting  (RetryConnection only)
//
// Every successful connect starts a new connection epoch and replays the
// subscription registry, so callers never need to remember which Subscribe
// calls raced a reconnect.
//
// # Usage
//
//	client, err := realtime.NewClient(realtime.Options{
//	    URL:     "wss://cdc.example.com/ws",
//	    Handler: router,
//	    Logger:  logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	unsubscribe := client.OnStatusChange(func(c realtime.StatusChange) {
//	    logger.Info("realtime", zap.String("state", string(c.To)))
//	})
//	defer unsubscribe()
//
//	_ = client.Subscribe("42")
//
// # Graceful Degradation
//
// Once PermanentlyFailed, IsAvailable returns false and no automatic retries
// happen. Callers switch to polling and may call RetryConnection later.
package realtime
