// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package testinfra

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/census/internal/source"
)

const (
	// sessionCookieName is the Play-framework cookie the dashboard issues
	// on login. The value is a JWT carrying the API bearer token.
	sessionCookieName = "PLAY_SESSION"

	// sessionSigningKey signs issued session JWTs. The client never
	// verifies the signature, only the payload shape.
	sessionSigningKey = "testinfra-session-key"
)

// RecordSeed is one aggregation record: a hierarchical location tag path
// and its ordered time-series entries. Entries are wire-shaped maps whose
// "time" field drives the from/to range filter.
type RecordSeed struct {
	Tags []string
	Line []map[string]any
}

// Entry builds one wire-shaped time-series entry: the measurement fields
// plus an RFC3339 "time" field.
func Entry(ts time.Time, fields map[string]any) map[string]any {
	e := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		e[k] = v
	}
	e["time"] = ts.UTC().Format(time.RFC3339Nano)
	return e
}

// SensorCloud is an in-process fake of the sensor-cloud dashboard API:
// the web login flow, device cluster enumeration, and the paged
// aggregation view. It reproduces the upstream's quirks so client
// regressions surface in tests instead of production:
//
//   - login answers a form POST with a 303 and the session cookie; bad
//     credentials get the login form again with a 200
//   - every data request requires the bearer token from the session JWT
//   - the aggregation view answers 503 when any field1..field6 projection
//     slot is missing
//   - dataContext must arrive as a single JSON-encoded array parameter
//   - the from/to range is inclusive on both ends
//
// Seed devices and records before starting traffic, then point a client
// at it via SourceConfig:
//
//	sc := testinfra.NewSensorCloud(t)
//	sc.SeedDevice("dev-1", "ACME HQ", "Floor 1", "Room 101")
//	sc.SeedRecords("ACME HQ", testinfra.RecordSeed{
//	    Tags: []string{"ACME HQ", "Floor 1", "Room 101"},
//	    Line: []map[string]any{testinfra.Entry(ts, map[string]any{"count": 4})},
//	})
//	client := source.NewClient(sc.SourceConfig(), source.NewTokenCache(sc.SourceConfig()))
//
// Safe for concurrent requests. Credential and identifier fields must be
// set before the first request; seeding is safe at any point.
type SensorCloud struct {
	// Username and Password are the credentials the login accepts.
	Username string
	Password string

	// AccessToken is the bearer token embedded in issued session JWTs and
	// required on every data request.
	AccessToken string

	// TokenTTL sets the exp claim distance on issued session JWTs.
	TokenTTL time.Duration

	// OwnerOrg is the organization owning the device cluster. Identity
	// filters match against it case-insensitively.
	OwnerOrg string

	// DeviceRecType and ClusterID form the device endpoint path.
	DeviceRecType string
	ClusterID     string

	// AggregateView is the share path segment the aggregation view is
	// mounted under.
	AggregateView string

	t      *testing.T
	server *httptest.Server

	mu      sync.Mutex
	devices []fakeDevice
	records map[string][]RecordSeed

	failMu        sync.Mutex
	failStatus    int
	failRemaining int

	loginHits       atomic.Int32
	deviceHits      atomic.Int32
	aggregationHits atomic.Int32
}

type fakeDevice struct {
	id       string
	location []string
}

// NewSensorCloud starts a fake upstream with default credentials and an
// empty cluster. The server is closed via t.Cleanup.
func NewSensorCloud(t *testing.T) *SensorCloud {
	t.Helper()

	sc := &SensorCloud{
		Username:      "svc-census",
		Password:      "census-test-password",
		AccessToken:   "tok-census-test",
		TokenTTL:      time.Hour,
		OwnerOrg:      "ACME Facility Services",
		DeviceRecType: "occupancy.packed",
		ClusterID:     "cluster-1",
		AggregateView: "fm.master.agg",
		t:             t,
		records:       make(map[string][]RecordSeed),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", sc.handleLogin)
	mux.HandleFunc("GET /device/{recType}/{clusterID}", sc.handleDevices)
	mux.HandleFunc("GET /share/{view}/{$}", sc.handleAggregation)

	sc.server = httptest.NewServer(mux)
	t.Cleanup(sc.server.Close)
	return sc
}

// URL returns the fake's base URL.
func (sc *SensorCloud) URL() string {
	return sc.server.URL
}

// LoginURL returns the web login endpoint.
func (sc *SensorCloud) LoginURL() string {
	return sc.server.URL + "/auth/login"
}

// Close shuts the server down early. Useful for provoking connection
// failures; otherwise t.Cleanup handles it.
func (sc *SensorCloud) Close() {
	sc.server.Close()
}

// SourceConfig returns a client configuration pointed at the fake, with
// retries and backoff tightened for fast tests.
func (sc *SensorCloud) SourceConfig() *source.Config {
	cfg := source.DefaultConfig()
	cfg.BaseURL = sc.server.URL
	cfg.LoginURL = sc.LoginURL()
	cfg.Username = sc.Username
	cfg.Password = sc.Password
	cfg.AggregateView = sc.AggregateView
	cfg.DeviceRecType = sc.DeviceRecType
	cfg.DeviceClusterID = sc.ClusterID
	cfg.RequestTimeout = 5 * time.Second
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = 10 * time.Millisecond
	cfg.RateLimit = 0
	return cfg
}

// SeedDevice adds one device to the cluster. The location path's first
// element is the building name discovery turns into a loc1 fetch key.
func (sc *SensorCloud) SeedDevice(id string, location ...string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.devices = append(sc.devices, fakeDevice{id: id, location: location})
}

// SeedRecords registers aggregation records served for the given loc1.
func (sc *SensorCloud) SeedRecords(loc1 string, seeds ...RecordSeed) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.records[loc1] = append(sc.records[loc1], seeds...)
}

// FailAggregation makes the next n aggregation requests answer with the
// given status before normal service resumes.
func (sc *SensorCloud) FailAggregation(n, status int) {
	sc.failMu.Lock()
	defer sc.failMu.Unlock()
	sc.failRemaining = n
	sc.failStatus = status
}

// LoginCount reports how many login attempts the fake served.
func (sc *SensorCloud) LoginCount() int {
	return int(sc.loginHits.Load())
}

// DeviceCount reports how many device enumeration requests the fake served.
func (sc *SensorCloud) DeviceCount() int {
	return int(sc.deviceHits.Load())
}

// AggregationCount reports how many aggregation requests the fake served,
// including injected failures.
func (sc *SensorCloud) AggregationCount() int {
	return int(sc.aggregationHits.Load())
}

func (sc *SensorCloud) handleLogin(w http.ResponseWriter, r *http.Request) {
	sc.loginHits.Add(1)

	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if r.PostFormValue("csrfToken") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// The real dashboard serves the login form again on bad credentials;
	// only the 303 carries a session.
	if r.PostFormValue("username") != sc.Username || r.PostFormValue("password") != sc.Password {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<!DOCTYPE html><html><body>Sign in</body></html>")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sc.mintSessionJWT(),
		Path:     "/",
		HttpOnly: true,
	})
	w.Header().Set("Location", "/dashboard")
	w.WriteHeader(http.StatusSeeOther)
}

func (sc *SensorCloud) handleDevices(w http.ResponseWriter, r *http.Request) {
	sc.deviceHits.Add(1)

	if !sc.authorized(w, r) {
		return
	}
	if r.PathValue("recType") != sc.DeviceRecType || r.PathValue("clusterID") != sc.ClusterID {
		http.NotFound(w, r)
		return
	}

	obj := clusterObject{}
	obj.Owner.Org = sc.OwnerOrg

	// details=false answers ownership only; the ping path reads just the
	// status code.
	if r.URL.Query().Get("details") == "true" {
		sc.mu.Lock()
		for _, dev := range sc.devices {
			cd := clusterDevice{ID: dev.id}
			cd.Meta.Location = dev.location
			obj.Data.Devices = append(obj.Data.Devices, cd)
		}
		sc.mu.Unlock()
	}

	sc.writeJSON(w, clusterEnvelope{Objs: []clusterObject{obj}})
}

func (sc *SensorCloud) handleAggregation(w http.ResponseWriter, r *http.Request) {
	sc.aggregationHits.Add(1)

	if sc.takeFailure(w) {
		return
	}
	if !sc.authorized(w, r) {
		return
	}
	if r.PathValue("view") != sc.AggregateView {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()
	if q.Get("id") == "" || q.Get("recType") == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// The production view answers 503 when any projection slot is absent.
	for i := 1; i <= 6; i++ {
		if q.Get("field"+strconv.Itoa(i)) == "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}

	// dataContext must be one JSON-encoded array parameter.
	var dataContext []string
	if err := json.Unmarshal([]byte(q.Get("dataContext")), &dataContext); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	from, err := time.Parse(time.RFC3339, q.Get("from"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("to"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	if pageSize < 1 {
		pageSize = 999
	}
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}

	objs := sc.recordObjects(q.Get("loc1"), from, to)

	total := len(objs)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > total {
		end = total
	}
	var pageObjs []recordObject
	if start < total {
		pageObjs = objs[start:end]
	}

	sc.writeJSON(w, recordEnvelope{
		Objs: pageObjs,
		Meta: pageMeta{TotalPages: totalPages, CurrentPage: page, TotalCount: total},
	})
}

// recordObjects returns the seeded records for loc1 with entries filtered
// to the inclusive [from, to] range, preserving seed order. Entries
// without a parseable "time" field are never range-filtered.
func (sc *SensorCloud) recordObjects(loc1 string, from, to time.Time) []recordObject {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	var objs []recordObject
	for _, seed := range sc.records[loc1] {
		var line []map[string]any
		for _, entry := range seed.Line {
			if ts, ok := entryTime(entry); ok && (ts.Before(from) || ts.After(to)) {
				continue
			}
			line = append(line, entry)
		}
		if len(line) == 0 {
			continue
		}
		obj := recordObject{}
		obj.Data.ID.Tags = seed.Tags
		obj.Data.Line = line
		objs = append(objs, obj)
	}
	return objs
}

func entryTime(entry map[string]any) (time.Time, bool) {
	raw, ok := entry["time"].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (sc *SensorCloud) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+sc.AccessToken {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid or missing token"}`)
		return false
	}
	return true
}

func (sc *SensorCloud) takeFailure(w http.ResponseWriter) bool {
	sc.failMu.Lock()
	defer sc.failMu.Unlock()
	if sc.failRemaining == 0 {
		return false
	}
	sc.failRemaining--
	w.WriteHeader(sc.failStatus)
	return true
}

func (sc *SensorCloud) mintSessionJWT() string {
	claims := jwt.MapClaims{
		"data": map[string]any{"access_token": sc.AccessToken},
		"exp":  time.Now().Add(sc.TokenTTL).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(sessionSigningKey))
	if err != nil {
		sc.t.Errorf("Failed to sign session JWT: %v", err)
	}
	return signed
}

func (sc *SensorCloud) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		sc.t.Errorf("Failed to encode response: %v", err)
	}
}

// Wire shapes mirroring the dashboard API responses.

type clusterEnvelope struct {
	Objs []clusterObject `json:"objs"`
}

type clusterObject struct {
	Owner struct {
		Org string `json:"org"`
	} `json:"owner"`
	Data struct {
		Devices []clusterDevice `json:"devices"`
	} `json:"data"`
}

type clusterDevice struct {
	ID   string `json:"id"`
	Meta struct {
		Location []string `json:"location"`
	} `json:"meta"`
}

type recordEnvelope struct {
	Objs []recordObject `json:"objs"`
	Meta pageMeta       `json:"meta"`
}

type recordObject struct {
	Data struct {
		ID struct {
			Tags []string `json:"tags"`
		} `json:"_id"`
		Line []map[string]any `json:"line"`
	} `json:"data"`
}

type pageMeta struct {
	TotalPages  int `json:"totalPages"`
	CurrentPage int `json:"currentPage"`
	TotalCount  int `json:"totalCount"`
}
