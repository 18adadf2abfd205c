package distantchat

import (
	"context"
	"log"
	"time"

	"github.com/ZentaChain/zentalk-distantchat/pkg/chat"
)

// KeepAlive sends a keep-alive status to every established session each
// interval until ctx is done. A non-positive interval uses the configured
// one.
func (s *Service) KeepAlive(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.config.KeepAliveInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendKeepAlives()
		}
	}
}

func (s *Service) sendKeepAlives() {
	for _, info := range s.Sessions() {
		if info.State != StateEstablished {
			continue
		}
		if err := s.Send(info.SessionID, chat.NewStatus(chat.FlagKeepAlive, "")); err != nil {
			log.Printf("⚠️  Keep-alive to %s failed: %v", info.SessionID, err)
		}
	}
}
