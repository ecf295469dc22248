package jobs

import (
	"context"
	"log"
	"time"

	"nst/gatekeeper/internal/operations"
	"nst/gatekeeper/internal/session"
)

// StartSessionSweep drops classification sessions whose reply deadline
// passed with no reply at all, and tells the user. Sessions that get a
// late reply are handled inline by the workflow; this only catches the
// ones nobody comes back to.
func StartSessionSweep(ctx context.Context, interval time.Duration, sessions *session.Store, notifier operations.Notifier) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				now := time.Now().UTC()
				expired, err := sessions.Expired(ctx, now)
				if err != nil {
					log.Printf("session sweep error: %v", err)
					continue
				}
				for _, sess := range expired {
					if err := sessions.Delete(ctx, sess.UserID, sess.ChannelID); err != nil {
						log.Printf("session sweep delete failed for %s/%s: %v", sess.UserID, sess.ChannelID, err)
						continue
					}
					if err := notifier.DirectMessage(ctx, sess.UserID, "Classification timed out. Run the command again to restart."); err != nil {
						log.Printf("session sweep notice to %s failed: %v", sess.UserID, err)
					}
				}
				if len(expired) > 0 {
					log.Printf("session sweep expired %d sessions", len(expired))
				}
			}
		}
	}()
}
