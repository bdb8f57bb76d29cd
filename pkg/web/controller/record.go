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
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/alibaba/opensandbox/missiond/pkg/util/safego"
	"github.com/alibaba/opensandbox/missiond/pkg/web/model"
)

const watchBuffer = 64

// RecordController serves the records emitted by the running tasks.
type RecordController struct {
	*basicController
}

func NewRecordController(ctx *gin.Context) *RecordController {
	return &RecordController{basicController: newBasicController(ctx)}
}

// GetRecords returns the latest record of every task.
func (c *RecordController) GetRecords() {
	if latestRecords == nil {
		c.RespondError(http.StatusServiceUnavailable, model.ErrorCodeRuntimeError, "record store is not initialized")
		return
	}
	c.RespondSuccess(latestRecords.Snapshot())
}

// GetTaskRecord returns the latest record of one task.
func (c *RecordController) GetTaskRecord() {
	if latestRecords == nil {
		c.RespondError(http.StatusServiceUnavailable, model.ErrorCodeRuntimeError, "record store is not initialized")
		return
	}
	name := c.ctx.Param("task")
	entry, ok := latestRecords.Snapshot()[name]
	if !ok {
		c.RespondError(http.StatusNotFound, model.ErrorCodeNotFound, "no record for task "+name)
		return
	}
	c.RespondSuccess(entry)
}

// WatchRecords streams every new record via SSE until the client disconnects.
func (c *RecordController) WatchRecords() {
	if latestRecords == nil {
		c.RespondError(http.StatusServiceUnavailable, model.ErrorCodeRuntimeError, "record store is not initialized")
		return
	}
	entries, cancel := latestRecords.Subscribe(watchBuffer)
	defer cancel()

	c.setupSSEResponse()
	writer := &eventWriter{c: c.basicController}
	ctx, stopPing := context.WithCancel(c.ctx.Request.Context())
	var wg sync.WaitGroup
	wg.Add(1)
	safego.Go(func() {
		defer wg.Done()
		writer.ping(ctx)
	})
	// the keepalive must not outlive the handler's writer.
	defer wg.Wait()
	defer stopPing()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := writer.writeSingleEvent("OnRecord", model.NewRecordEvent(entry).ToJSON()); err != nil {
				return
			}
		}
	}
}
