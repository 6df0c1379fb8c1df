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
	"time"

	"github.com/gin-gonic/gin"

	model2 "github.com/pulphealth/pulp/api/model"
)

// schedulePath pulls and validates the :practice_id/:date pair every
// schedule route shares. On failure it writes the 400 itself and
// returns ok=false.
func schedulePath(c *gin.Context) (practiceID, date string, ok bool) {
	practiceID = c.Param("practice_id")
	date = c.Param("date")
	if practiceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "practice_id is required. pass the practice identifier in the URL"})
		return "", "", false
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be in YYYY-MM-DD format"})
		return "", "", false
	}
	return practiceID, date, true
}

// GetSchedule returns the day sheet for a practice, pulling from the
// PMS when no live cached copy exists.
func (a Api) GetSchedule(c *gin.Context) {
	practiceID, date, ok := schedulePath(c)
	if !ok {
		return
	}

	patients, err := a.pulp.Schedule(c.Request.Context(), practiceID, date)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"practice_id": practiceID, "date": date, "patients": patients})
}

// ApplyScheduleEvent folds a real-time PMS event into the cached day
// sheet so same-day bookings and cancellations show up without waiting
// for the next full pull.
func (a Api) ApplyScheduleEvent(c *gin.Context) {
	practiceID, date, ok := schedulePath(c)
	if !ok {
		return
	}

	var event model2.ScheduleEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := event.ValidateScheduleEvent(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cache := a.pulp.ScheduleCache()
	switch event.Action {
	case model2.ScheduleEventRemove:
		if removed := cache.Remove(practiceID, date, event.ExternalID); !removed {
			c.JSON(http.StatusNotFound, gin.H{"error": "patient not found on the cached schedule"})
			return
		}
	default:
		cache.Merge(practiceID, date, *event.Patient)
	}
	c.JSON(http.StatusOK, gin.H{"practice_id": practiceID, "date": date, "applied": event.Action})
}

// InvalidateSchedule drops the cached day sheet so the next read pulls
// fresh from the PMS.
func (a Api) InvalidateSchedule(c *gin.Context) {
	practiceID, date, ok := schedulePath(c)
	if !ok {
		return
	}

	a.pulp.ScheduleCache().Invalidate(practiceID, date)
	c.JSON(http.StatusOK, gin.H{"practice_id": practiceID, "date": date, "invalidated": true})
}
