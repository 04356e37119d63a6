package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messgate/session"
	"messgate/store"
)

// allDay keeps handler behavior independent of the test's wall clock.
func allDay() session.Schedule {
	return session.NewSchedule([]session.Window{
		{Name: "ALL", Start: session.ClockTime{Hour: 0, Minute: 0}, End: session.ClockTime{Hour: 23, Minute: 59}},
	}, false)
}

func testServer(t *testing.T, process ProcessFunc) (*Server, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := New(Config{}, st, allDay(), "IIITKOTAUSER", NewHub(), process)
	return s, st
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(w, r)
	return w
}

func TestManualEntry(t *testing.T) {
	var processed string
	process := func(_ context.Context, identity string) Outcome {
		processed = identity
		return Outcome{Type: "mess_response", Status: "success", StudentID: identity}
	}
	s, st := testServer(t, process)
	require.NoError(t, st.UpsertStudent(store.Student{ID: "2022KUCP1033", Name: "Asha Verma"}))

	w := do(s, "POST", "/api/entry/manual",
		`{"year":"2022","department":"KUCP","roll_number":"1033"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2022KUCP1033", processed)

	var resp struct {
		Success bool    `json:"success"`
		Data    Outcome `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "success", resp.Data.Status)
}

func TestManualEntryUnknownStudent(t *testing.T) {
	s, _ := testServer(t, func(context.Context, string) Outcome {
		t.Fatal("process must not run for an unknown identity")
		return Outcome{}
	})

	w := do(s, "POST", "/api/entry/manual",
		`{"year":"2022","department":"KUCP","roll_number":"9999"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestManualEntryGuest(t *testing.T) {
	var processed string
	s, _ := testServer(t, func(_ context.Context, identity string) Outcome {
		processed = identity
		return Outcome{Status: "success"}
	})

	// The guest identity is not on the roster but is always accepted.
	w := do(s, "POST", "/api/entry/manual",
		`{"year":"IIIT","department":"KOTA","roll_number":"USER"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "IIITKOTAUSER", processed)
}

func TestManualEntryBadBody(t *testing.T) {
	s, _ := testServer(t, func(context.Context, string) Outcome { return Outcome{} })

	w := do(s, "POST", "/api/entry/manual", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestManualEntryDisabled(t *testing.T) {
	s, _ := testServer(t, nil)

	w := do(s, "POST", "/api/entry/manual",
		`{"year":"2022","department":"KUCP","roll_number":"1033"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRecentEndpoint(t *testing.T) {
	s, st := testServer(t, nil)
	require.NoError(t, st.UpsertStudent(store.Student{ID: "2022KUCP1033", Name: "Asha Verma"}))
	require.NoError(t, st.RecordEntry("ALL", "2022KUCP1033"))

	w := do(s, "GET", "/api/mess/recent", "")
	require.Equal(t, http.StatusOK, w.Code)

	var entries []struct {
		StudentID string `json:"student_id"`
		Name      string `json:"name"`
		ImagePath string `json:"image_path"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "Asha Verma", entries[0].Name)
	assert.Equal(t, "/api/images/2022KUCP1033.png", entries[0].ImagePath)
}

func TestStatsEndpoint(t *testing.T) {
	s, st := testServer(t, nil)
	require.NoError(t, st.RecordEntry("ALL", "2022KUCP1033"))
	require.NoError(t, st.RecordEntry("ALL", "2022KUCP1034"))

	w := do(s, "GET", "/api/mess/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats store.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Students)

	w = do(s, "GET", "/api/mess/stats?month=not-a-month", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportEndpoint(t *testing.T) {
	s, st := testServer(t, nil)
	require.NoError(t, st.RecordEntry("ALL", "2022KUCP1033"))

	w := do(s, "GET", "/api/mess/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Timestamp,Student ID,Name,Session", lines[0])
	assert.Contains(t, lines[1], "2022KUCP1033")
}

func TestSessionEndpoint(t *testing.T) {
	s, _ := testServer(t, nil)

	w := do(s, "GET", "/api/mess/session", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Current string                       `json:"current_session"`
		Timings map[string]map[string]string `json:"timings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ALL", resp.Current)
	assert.Equal(t, "00:00", resp.Timings["ALL"]["start"])
	assert.Equal(t, "23:59", resp.Timings["ALL"]["end"])
}

func TestImagePath(t *testing.T) {
	assert.Equal(t, "/api/images/2022KUCP1033.png", ImagePath("2022KUCP1033", "IIITKOTAUSER"))
	assert.Equal(t, "/api/images/guest.png", ImagePath("IIITKOTAUSER", "IIITKOTAUSER"))
}
