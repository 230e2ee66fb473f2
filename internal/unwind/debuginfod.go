// Copyright 2026 The memray-sub002 Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unwind

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bloomberg/memray-sub002/internal/tracelog"
)

// debuginfodClient fetches separate debug info by build-id from the
// servers named in DEBUGINFOD_URLS, caching the result under
// DEBUGINFOD_CACHE_PATH. Every field mirrors one of the environment
// variables the resolver recognizes.
type debuginfodClient struct {
	urls      []string
	cacheDir  string
	timeout   time.Duration
	maxSize   int64
	verbose   bool
	http      *http.Client
}

func newDebuginfodClient() *debuginfodClient {
	c := &debuginfodClient{timeout: 90 * time.Second}
	if v := os.Getenv("DEBUGINFOD_URLS"); v != "" {
		c.urls = strings.Fields(v)
	}
	c.cacheDir = os.Getenv("DEBUGINFOD_CACHE_PATH")
	if c.cacheDir == "" {
		c.cacheDir = filepath.Join(os.TempDir(), "debuginfod-client")
	}
	if v := os.Getenv("DEBUGINFOD_TIMEOUT"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			c.timeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DEBUGINFOD_MAXSIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.maxSize = n
		}
	}
	c.verbose = os.Getenv("DEBUGINFOD_VERBOSE") != ""
	c.http = &http.Client{Timeout: c.timeout}
	return c
}

// fetch returns a local path to the debuginfo for buildID, downloading
// and caching it on first use. It returns an error if no server is
// configured or every configured server fails; callers treat that as a
// soft failure and fall back to the symbol table.
func (c *debuginfodClient) fetch(buildID string) (string, error) {
	if len(c.urls) == 0 {
		return "", fmt.Errorf("debuginfod: no DEBUGINFOD_URLS configured")
	}
	cached := filepath.Join(c.cacheDir, buildID, "debuginfo")
	if fi, err := os.Stat(cached); err == nil && fi.Size() > 0 {
		return cached, nil
	}
	var lastErr error
	for _, base := range c.urls {
		path, err := c.fetchFrom(base, buildID, cached)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if c.verbose {
			tracelog.Warnf("debuginfod: %s: %v", base, err)
		}
	}
	return "", lastErr
}

func (c *debuginfodClient) fetchFrom(base, buildID, dest string) (string, error) {
	url := strings.TrimRight(base, "/") + "/buildid/" + buildID + "/debuginfo"
	resp, err := c.http.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("debuginfod: %s: status %d", url, resp.StatusCode)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var body io.Reader = resp.Body
	if c.maxSize > 0 {
		body = io.LimitReader(resp.Body, c.maxSize)
	}
	if _, err := io.Copy(f, body); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}
