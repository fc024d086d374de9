package rollcall_test

import (
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/aussiebroadwan/rollcall/pkg/issuance"
	"github.com/aussiebroadwan/rollcall/pkg/jwtx"
	"github.com/aussiebroadwan/rollcall/pkg/qrpayload"
	"github.com/aussiebroadwan/rollcall/pkg/realtime"
	"github.com/aussiebroadwan/rollcall/pkg/scan"
)

func TestHealthEndpoints(t *testing.T) {
	d := setupContainer(t, 5*time.Minute)
	client := attendsdk.NewClient(d.baseURL)

	live, err := client.GetLiveness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)

	ready, err := client.GetReadiness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.Equal(t, "ok", ready.Checks.Signer)
}

// TestIssueScanNotify drives the three clients against a real server: the
// teacher issues a code, a student scans it and the teacher's notifier sees
// the check-in.
func TestIssueScanNotify(t *testing.T) {
	d := setupContainer(t, time.Minute)

	cfg := realtime.DefaultConfig(d.baseURL, realtime.ChannelAttendance)
	cfg.Token = attendsdk.StaticToken(d.token(t, "teacher-1", jwtx.RoleTeacher))
	notifier := realtime.New(cfg)
	t.Cleanup(notifier.Disconnect)

	var (
		mu   sync.Mutex
		seen []realtime.AttendanceMarked
	)
	notifier.OnAttendanceMarked(func(m realtime.AttendanceMarked) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, m)
	})
	require.NoError(t, notifier.Connect(t.Context()))
	require.NoError(t, notifier.Subscribe("301"))

	issuer := issuance.New(d.client(t, "teacher-1", jwtx.RoleTeacher), issuance.Session{ID: "301", Name: "Chemistry"})
	require.NoError(t, issuer.Issue(t.Context()))
	state := issuer.Snapshot()
	require.True(t, state.Active)
	require.NotEmpty(t, state.QRImage)

	payload, err := qrPayload(state)
	require.NoError(t, err)

	scanner := scan.New(nil, d.client(t, "alice", jwtx.RoleStudent), "")
	attempt, err := scanner.SubmitManual(t.Context(), payload)
	require.NoError(t, err)
	require.Equal(t, scan.StateSucceeded, attempt.State, attempt.Message)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0].StudentID == "alice"
	}, 5*time.Second, 50*time.Millisecond)

	// Revocation is confirmed before local state is cleared.
	require.NoError(t, issuer.Revoke(t.Context()))
	require.False(t, issuer.Snapshot().Active)

	second := scan.New(nil, d.client(t, "bob", jwtx.RoleStudent), "")
	attempt, err = second.SubmitManual(t.Context(), payload)
	require.NoError(t, err)
	require.Equal(t, scan.StateFailed, attempt.State)
	require.Equal(t, scan.ReasonRejected, attempt.Reason)
}

func TestServerRejectsExpiredToken(t *testing.T) {
	d := setupContainer(t, 2*time.Second)

	teacher := d.client(t, "teacher-1", jwtx.RoleTeacher)
	issued, err := teacher.GenerateQR(t.Context(), attendsdk.GenerateQRRequest{SessionID: "302"})
	require.NoError(t, err)

	time.Sleep(3 * time.Second)

	// Submitting the bare token skips the client-side expiry check, so the
	// server has to catch it.
	_, err = d.client(t, "alice", jwtx.RoleStudent).ValidateQR(t.Context(), attendsdk.ValidateQRRequest{QRToken: issued.Token})
	var apiErr *attendsdk.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Equal(t, "token_expired", apiErr.Code)
}

func qrPayload(s issuance.State) (string, error) {
	b, err := qrpayload.Encode(*s.Token)
	return string(b), err
}
