package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// StartExpiryReminders warns each chat once when its access token is about
// to expire, so staff can log in again before polling starts failing.
func (b *Bot) StartExpiryReminders(ctx context.Context, every, lead time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	if lead <= 0 {
		lead = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				b.sendExpiryReminders(now, lead)
			}
		}
	}()
}

func (b *Bot) sendExpiryReminders(now time.Time, lead time.Duration) int {
	sent := 0
	for _, st := range b.sessions.all() {
		v := st.ctrl.View()
		if !shouldRemind(v.Authenticated, v.ExpiresAt, now, lead) {
			continue
		}

		st.mu.Lock()
		warned := st.warnedExpiry
		st.warnedExpiry = true
		st.mu.Unlock()
		if warned {
			continue
		}

		msg := tgbotapi.NewMessage(st.chatID, formatExpiryMessage(v.ExpiresAt.In(b.loc)))
		if _, err := b.tg.Send(msg); err != nil {
			b.logger.Warn().Err(err).Int64("chat_id", st.chatID).Msg("reminder: send failed")
			continue
		}
		sent++
	}
	return sent
}

func shouldRemind(authenticated bool, expiresAt, now time.Time, lead time.Duration) bool {
	if !authenticated || expiresAt.IsZero() {
		return false
	}
	return !now.Before(expiresAt.Add(-lead))
}

func formatExpiryMessage(at time.Time) string {
	return "Your session expires at " + at.Format("15:04") + ". Use /login to sign in again."
}
