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
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/pulphealth/pulp/model"
)

// GetDeadLetteredRetries lists verification retries that burned through
// every attempt. Front desk tooling surfaces these as "call the carrier"
// work items.
func (a Api) GetDeadLetteredRetries(c *gin.Context) {
	entries, err := a.pulp.DeadLetteredRetries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"dead_lettered": entries})
}

// DrainRetries replays one batch of due retry entries immediately
// instead of waiting for the next scheduled drain.
func (a Api) DrainRetries(c *gin.Context) {
	processed, err := a.pulp.ProcessRetries(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": processed})
}

// GetServiceHealth reports the circuit state for a dependency such as a
// clearinghouse or PMS bridge.
func (a Api) GetServiceHealth(c *gin.Context) {
	service := c.Param("service")
	if service == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "service is required. pass the service name in the URL"})
		return
	}
	c.JSON(http.StatusOK, a.pulp.ServiceHealth(c.Request.Context(), service))
}

// GetHipaaCodes returns the carrier adjustment code playbook in code
// order so clients can render a stable reference table.
func (a Api) GetHipaaCodes(c *gin.Context) {
	actions := make([]model.HipaaCodeAction, 0, len(model.HipaaCodeActions))
	for _, action := range model.HipaaCodeActions {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Code < actions[j].Code })
	c.JSON(http.StatusOK, gin.H{"codes": actions})
}
