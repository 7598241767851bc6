// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware instruments a gin handler chain.
//
// Description:
//
//	Gin counterpart of Middleware: records request duration and count on
//	every exit path including handler panics (recorded as 500 and
//	re-panicked for gin.Recovery), resolves the identity through the
//	configured IdentityProvider, and observes every error accumulated in
//	c.Errors. The route label is c.FullPath() so parameterized routes
//	keep bounded cardinality; unmatched requests fall back to the URL
//	path. On a disabled pipeline requests pass through untouched.
//
// Example:
//
//	router := gin.New()
//	router.Use(otelgin.Middleware("my-service"), p.GinMiddleware())
//
// Thread Safety: Safe for concurrent use.
func (p *Pipeline) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !p.enabled {
			c.Next()
			return
		}

		start := time.Now()
		p.touchRequestIdentity(c.Request)

		defer func() {
			if rec := recover(); rec != nil {
				p.recordRequest(c.Request.Method, ginRoute(c), http.StatusInternalServerError, time.Since(start))
				panic(rec)
			}

			p.recordRequest(c.Request.Method, ginRoute(c), c.Writer.Status(), time.Since(start))
			for _, ginErr := range c.Errors {
				_ = p.ObserveError(c.Request.Context(), ginErr.Err)
			}
		}()

		c.Next()
	}
}

// ginRoute returns the matched route pattern, or the raw path when no
// route matched (404s).
func ginRoute(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return c.Request.URL.Path
}
