/*
Copyright 2025 Pulp Health Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/pulphealth/pulp"
	"github.com/pulphealth/pulp/api/middleware"
	"github.com/pulphealth/pulp/config"
)

type Api struct {
	pulp   *pulp.Pulp
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/verifications", a.VerifyPatient)
	router.GET("/schedules/:practice_id/:date/verifications", a.VerifySchedule)

	router.GET("/schedules/:practice_id/:date", a.GetSchedule)
	router.POST("/schedules/:practice_id/:date/events", a.ApplyScheduleEvent)
	router.DELETE("/schedules/:practice_id/:date", a.InvalidateSchedule)

	router.GET("/retries/dead-letter", a.GetDeadLetteredRetries)
	router.POST("/retries/drain", a.DrainRetries)

	router.GET("/services/:service/health", a.GetServiceHealth)
	router.GET("/hipaa-codes", a.GetHipaaCodes)

	router.POST("/assistant/questions", a.AskAssistant)

	return a.router
}

func NewAPI(p *pulp.Pulp) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{pulp: p, router: r}
}
