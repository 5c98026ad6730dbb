// Copyright 2026 Fluxlog, Inc.

package adminapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Diagnostics feed, same policy as the CORS config in NewServer.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWatch streams a replica's offset movement over a websocket: one
// frame per observed LEO change, coalesced the way OffsetPublisher.Listen
// coalesces, plus a frame on connect with the current state.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id, ok := s.replicaID(w, r)
	if !ok {
		return
	}
	leader, isLeader := s.registry.Leader(id)
	if !isLeader {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not led by this spu"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reads are discarded; a read error is how we learn the client left.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := r.Context()
	for {
		frame := offsetUpdate{
			Topic:     id.Topic,
			Partition: id.Partition,
			LEO:       leader.LEO(),
			HW:        leader.HW(),
			At:        time.Now(),
		}
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(frame); err != nil {
			return
		}

		waitCh := make(chan int64, 1)
		go func(last int64) {
			v, _ := leader.LEOPublisher().Listen(ctx, last)
			waitCh <- v
		}(frame.LEO)

		select {
		case <-waitCh:
		case <-clientGone:
			return
		case <-ctx.Done():
			return
		}
	}
}
