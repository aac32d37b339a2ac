package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ssau-fiit/cloudocs-sync/client"
	"github.com/ssau-fiit/cloudocs-sync/oplog"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleSocket serves client.Request calls for one document. Requests are
// handled concurrently and answered in completion order.
func (s *server) handleSocket(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second*5)
	doc, ok := s.document(ctx, c)
	cancel()
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("error upgrading connection")
		return
	}
	defer conn.Close()

	l := s.opLog(doc.ID)
	var (
		writeMu sync.Mutex
		wg      sync.WaitGroup
	)
	defer wg.Wait()
	// Cancelled before the wait above, so long polls end with the socket.
	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	reply := func(resp client.Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(resp); err != nil {
			log.Error().Err(err).Msg("failed to write message")
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("id", doc.ID).Msg("socket closed")
			}
			return
		}
		var req client.Request
		if err := json.Unmarshal(data, &req); err != nil {
			log.Warn().Err(err).Str("id", doc.ID).Msg("bad request")
			reply(badRequest(data, err))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			reply(serve(ctx, l, req))
		}()
	}
}

// badRequest answers a frame that does not decode as a Request, keeping
// its id when one can be read.
func badRequest(data []byte, err error) client.Response {
	var head struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(data, &head)
	return client.Response{ID: head.ID, Error: err.Error()}
}

func serve(ctx context.Context, l *oplog.Log, req client.Request) (resp client.Response) {
	wait := time.Duration(req.Wait) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, time.Second*5+wait)
	defer cancel()

	resp = client.Response{ID: req.ID}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("method", req.Method).Msg("request failed")
			resp = client.Response{ID: req.ID, Error: fmt.Sprint("internal error: ", p)}
		}
	}()

	switch req.Method {
	case client.MethodRead:
		result, err := readOps(ctx, l, req.Version, req.Limit, wait)
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.Ops = result
	case client.MethodWrite:
		if err := l.Write(ctx, req.Ops); err != nil {
			log.Warn().Err(err).Int("ops", len(req.Ops)).Msg("write rejected")
			_, e := writeError(err)
			resp.Error, resp.DesyncID = e.Error, e.Desync
		}
	case client.MethodSnapshot:
		v, version, err := l.Snapshot(ctx)
		if err == nil {
			resp.Snapshot, err = json.Marshal(v)
		}
		if err != nil {
			resp.Error = err.Error()
			break
		}
		resp.Version = version
	default:
		resp.Error = "unknown method " + req.Method
	}
	return resp
}
