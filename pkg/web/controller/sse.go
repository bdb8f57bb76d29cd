// Copyright 2025 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controller

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/alibaba/opensandbox/missiond/pkg/log"
	"github.com/alibaba/opensandbox/missiond/pkg/web/model"
)

const pingInterval = 10 * time.Second

var sseHeaders = map[string]string{
	"Content-Type":      "text/event-stream",
	"Cache-Control":     "no-cache",
	"Connection":        "keep-alive",
	"X-Accel-Buffering": "no",
}

func (c *basicController) setupSSEResponse() {
	for key, value := range sseHeaders {
		c.ctx.Writer.Header().Set(key, value)
	}
	if flusher, ok := c.ctx.Writer.(http.Flusher); ok {
		flusher.Flush()
	}
}

// eventWriter serializes SSE frames from the record loop and the keepalive.
type eventWriter struct {
	mu sync.Mutex
	c  *basicController
}

// writeSingleEvent writes one SSE frame and flushes it.
func (w *eventWriter) writeSingleEvent(handler string, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	writer := w.c.ctx.Writer
	defer func() {
		if flusher, ok := writer.(http.Flusher); ok {
			flusher.Flush()
		}
	}()

	payload := append(data, '\n', '\n')
	n, err := writer.Write(payload)
	if err == nil && n != len(payload) {
		err = io.ErrShortWrite
	}
	if err != nil {
		log.Error("StreamEvent.%s write data %s error: %v", handler, string(data), err)
	}
	return err
}

// ping periodically keeps the SSE connection alive until ctx is done.
func (w *eventWriter) ping(ctx context.Context) {
	wait.Until(func() {
		payload := model.RecordStreamEvent{
			Type:      model.StreamEventTypePing,
			Timestamp: time.Now().UnixMilli(),
		}.ToJSON()
		_ = w.writeSingleEvent("Ping", payload)
	}, pingInterval, ctx.Done())
}
