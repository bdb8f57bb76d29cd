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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/alibaba/opensandbox/missiond/pkg/web/model"
)

// MetricController handles on-demand host metrics requests
type MetricController struct {
	*basicController
}

func NewMetricController(ctx *gin.Context) *MetricController {
	return &MetricController{basicController: newBasicController(ctx)}
}

// GetMetrics reads system info and a load snapshot right now.
func (c *MetricController) GetMetrics() {
	if hostSource == nil {
		c.RespondError(http.StatusServiceUnavailable, model.ErrorCodeRuntimeError, "host source is not initialized")
		return
	}

	window := time.Second
	if raw := c.ctx.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 || d > 10*time.Second {
			c.RespondError(http.StatusBadRequest, model.ErrorCodeInvalidRequest, "window must be a duration in (0, 10s]")
			return
		}
		window = d
	}

	c.RespondSuccess(c.readMetrics(window))
}

// readMetrics never fails: a load error is reported next to the system info.
func (c *MetricController) readMetrics(window time.Duration) *model.HostMetrics {
	ctx := c.ctx.Request.Context()
	metrics := model.NewHostMetrics()
	metrics.SystemInfo = hostSource.SystemInfo(ctx)

	load, err := hostSource.LoadSnapshot(ctx, window)
	if err != nil {
		metrics.LoadError = err.Error()
	} else {
		metrics.Load = &load
	}
	return metrics
}
