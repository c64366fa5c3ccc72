package handler_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/models"
	"github.com/noah-isme/gema-assessment-api/internal/service"
)

func (s *testServer) listen(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = s.app.Listener(ln) }()
	t.Cleanup(func() { _ = s.app.Shutdown() })

	return ln.Addr().String()
}

func readEvent(t *testing.T, conn *websocket.Conn) dto.RealtimeEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var event dto.RealtimeEvent
	require.NoError(t, conn.ReadJSON(&event))
	return event
}

func TestRealtimeWebsocketSession(t *testing.T) {
	s := newTestServer(t)
	addr := s.listen(t)
	url := "ws://" + addr + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token="+token(t, studentID, service.RoleStudent), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, dto.EventConnected, readEvent(t, conn).Type)
	require.Eventually(t, func() bool { return s.dispatcher.ConnectedCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(dto.RealtimeClientMessage{Type: "PING"}))
	require.Equal(t, dto.EventPong, readEvent(t, conn).Type)

	submission := startSubmission(t, s, token(t, studentID, service.RoleStudent))
	resp2 := s.call(t, http.MethodPost, path("/submissions/%d/finalize", submission.ID), token(t, studentID, service.RoleStudent), nil)
	require.Equal(t, fiber.StatusOK, resp2.StatusCode)

	event := readEvent(t, conn)
	require.Equal(t, dto.EventSubmissionFinalized, event.Type)
	payload, ok := event.Payload.(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, submission.ID, payload["submission"].(map[string]interface{})["id"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.dispatcher.ConnectedCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationEndpointsAndStream(t *testing.T) {
	s := newTestServer(t)
	addr := s.listen(t)
	studentToken := token(t, studentID, service.RoleStudent)
	teacherToken := token(t, teacherID, service.RoleTeacher)

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/api/v1/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+studentToken)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, err := http.DefaultClient.Do(req.WithContext(ctx))
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, "text/event-stream", stream.Header.Get(fiber.HeaderContentType))
	require.Eventually(t, func() bool { return s.dispatcher.ConnectedCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	submission := startSubmission(t, s, studentToken)
	resp := s.call(t, http.MethodPost, path("/submissions/%d/finalize", submission.ID), studentToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	resp = s.call(t, http.MethodPut, path("/submissions/%d/grade", submission.ID), teacherToken, dto.GradeSubmissionRequest{Score: 70, Feedback: "Good"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(stream.Body)
	seen := map[string]bool{}
	deadline := time.Now().Add(3 * time.Second)
	for !seen[dto.EventSubmissionGraded] && time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
			var event dto.RealtimeEvent
			require.NoError(t, json.Unmarshal([]byte(data), &event))
			seen[event.Type] = true
		}
	}
	require.True(t, seen[dto.EventSubmissionFinalized])
	require.True(t, seen[dto.EventSubmissionGraded])

	var list envelope[[]dto.NotificationResponse]
	require.Eventually(t, func() bool {
		resp, err := http.DefaultClient.Do(authorized(t, http.MethodGet, "http://"+addr+"/api/v1/notifications", studentToken))
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		list = envelope[[]dto.NotificationResponse]{}
		return json.NewDecoder(resp.Body).Decode(&list) == nil && len(list.Data) == 1
	}, 2*time.Second, 20*time.Millisecond)
	require.Equal(t, "submission_graded", list.Data[0].Type)
	require.False(t, list.Data[0].Read)

	resp = s.call(t, http.MethodPatch, path("/notifications/%d/read", list.Data[0].ID), token(t, otherID, service.RoleStudent), nil)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp = s.call(t, http.MethodPatch, path("/notifications/%d/read", list.Data[0].ID), studentToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.True(t, decode[dto.NotificationResponse](t, resp).Data.Read)

	resp = s.call(t, http.MethodGet, path("/notifications?limit=x"), studentToken, nil)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func authorized(t *testing.T, method, url, bearer string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	return req
}

func TestNotificationReadAllAndBroadcast(t *testing.T) {
	s := newTestServer(t)
	studentToken := token(t, studentID, service.RoleStudent)
	teacherToken := token(t, teacherID, service.RoleTeacher)

	require.NoError(t, s.db.Create(&[]models.Notification{
		{UserID: studentID, Type: "submission_graded", Title: "Graded", Message: "70"},
		{UserID: studentID, Type: "submission_graded", Title: "Graded", Message: "80"},
		{UserID: otherID, Type: "submission_graded", Title: "Graded", Message: "90"},
	}).Error)

	resp := s.call(t, http.MethodPut, path("/notifications/read-all"), studentToken, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, decode[dto.NotificationReadAllResponse](t, resp).Data.Updated)

	resp = s.call(t, http.MethodPut, path("/notifications/read-all"), studentToken, nil)
	require.EqualValues(t, 0, decode[dto.NotificationReadAllResponse](t, resp).Data.Updated)

	resp = s.call(t, http.MethodGet, path("/notifications"), token(t, otherID, service.RoleStudent), nil)
	others := decode[[]dto.NotificationResponse](t, resp).Data
	require.Len(t, others, 1)
	require.False(t, others[0].Read)

	events, cleanup := s.dispatcher.Subscribe(otherID)
	defer cleanup()

	announcement := dto.AnnouncementRequest{Title: "Lab closed", Message: "<b>Friday</b> only"}
	resp = s.call(t, http.MethodPost, path("/notifications/broadcast"), studentToken, announcement)
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp = s.call(t, http.MethodPost, path("/notifications/broadcast"), teacherToken, dto.AnnouncementRequest{Title: "Empty"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = s.call(t, http.MethodPost, path("/notifications/broadcast"), teacherToken, announcement)
	require.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	require.Equal(t, teacherID, decode[dto.AnnouncementPayload](t, resp).Data.SenderID)

	select {
	case event := <-events:
		require.Equal(t, dto.EventAnnouncement, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("announcement was not delivered")
	}
}
