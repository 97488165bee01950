package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adi-253/fellowship/internal/models"
	"github.com/adi-253/fellowship/internal/services"
)

type env struct {
	srv        *httptest.Server
	messages   *services.MessageService
	membership *services.MembershipService
	uploadDir  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zerolog.Nop()
	messages := services.NewMessageService(services.NopPublisher{}, log)
	membership := services.NewMembershipService(messages, services.NopPublisher{}, log)
	dir := t.TempDir()

	router := NewRouter(Deps{
		Messages:      messages,
		Comments:      services.NewCommentService(services.NopPublisher{}, log),
		Membership:    membership,
		CORSOrigins:   []string{"http://localhost:5173"},
		UploadDir:     dir,
		MaxUploadSize: 1024,
		BaseURL:       "http://api.test",
		Log:           log,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &env{srv: srv, messages: messages, membership: membership, uploadDir: dir}
}

func (e *env) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	e := newEnv(t)

	var body HealthResponse
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", nil, &body))
	assert.Equal(t, "ok", body.Status)
}

func TestComments_TreeEndpoint(t *testing.T) {
	e := newEnv(t)

	var root models.Comment
	status := e.do(t, http.MethodPost, "/api/posts/p1/comments", models.CreateCommentRequest{AuthorID: "ana", Content: "first"}, &root)
	require.Equal(t, http.StatusCreated, status)

	var reply models.Comment
	status = e.do(t, http.MethodPost, "/api/posts/p1/comments",
		models.CreateCommentRequest{AuthorID: "ben", ParentID: root.ID, Content: "reply"}, &reply)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, root.ID, reply.ParentID)

	// Tree nodes are read back generically; they embed the comment fields.
	var tree struct {
		PostID   string `json:"post_id"`
		Total    int    `json:"total"`
		Comments []struct {
			ID      string `json:"id"`
			Replies []struct {
				ID string `json:"id"`
			} `json:"replies"`
		} `json:"comments"`
	}
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/posts/p1/comments", nil, &tree))
	assert.Equal(t, "p1", tree.PostID)
	assert.Equal(t, 2, tree.Total)
	require.Len(t, tree.Comments, 1)
	require.Len(t, tree.Comments[0].Replies, 1)
	assert.Equal(t, reply.ID, tree.Comments[0].Replies[0].ID)

	var bad ErrorResponse
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/posts/p1/comments?depth=-1", nil, &bad))
	assert.Contains(t, bad.Error, "depth")
}

func TestComments_Errors(t *testing.T) {
	e := newEnv(t)

	var errBody ErrorResponse
	status := e.do(t, http.MethodPost, "/api/posts/p1/comments",
		models.CreateCommentRequest{AuthorID: "ana", ParentID: "nope", Content: "x"}, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errBody.Error, "parent comment not found")

	var c models.Comment
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/posts/p1/comments",
		models.CreateCommentRequest{AuthorID: "ana", Content: "x"}, &c))

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodDelete, "/api/posts/p1/comments/"+c.ID, nil, nil))
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodDelete, "/api/posts/p1/comments/"+c.ID+"?actor_id=ben", nil, nil))
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/posts/p1/comments/"+c.ID+"?actor_id=ana", nil, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/posts/p1/comments/"+c.ID+"?actor_id=ana", nil, nil))
}

func TestComments_React(t *testing.T) {
	e := newEnv(t)

	var c models.Comment
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/posts/p1/comments",
		models.CreateCommentRequest{AuthorID: "ana", Content: "amen"}, &c))

	var reacted models.Comment
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/posts/p1/comments/"+c.ID+"/reactions",
		map[string]string{"kind": "pray"}, &reacted))
	assert.Equal(t, 1, reacted.Reactions["pray"])
}

func TestMessages_SendIsIdempotent(t *testing.T) {
	e := newEnv(t)
	req := models.SendMessageRequest{SenderID: "ana", RecipientID: "ben", Content: "hola", ClientToken: "tok-1"}

	var first, second models.Message
	assert.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/messages", req, &first))
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/messages", req, &second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "tok-1", first.ClientToken)

	var history models.GetMessagesResponse
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/conversations/"+first.ConversationID+"/messages", nil, &history))
	require.Len(t, history.Messages, 1)

	var conv models.Conversation
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/conversations/"+first.ConversationID, nil, &conv))
	assert.ElementsMatch(t, []string{"ana", "ben"}, conv.Participants)
}

func TestMessages_Errors(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/messages", models.SendMessageRequest{SenderID: "ana"}, nil))
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/conversations/missing/messages", nil, nil))
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/conversations/missing/messages?after=yesterday", nil, nil))

	var msg models.Message
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/messages",
		models.SendMessageRequest{SenderID: "ana", RecipientID: "ben", Content: "hi"}, &msg))

	path := "/api/conversations/" + msg.ConversationID + "/messages/" + msg.ID
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodDelete, path+"?actor_id=ben", nil, nil))
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, path+"?actor_id=ana", nil, nil))
}

func TestMessages_MarkRead(t *testing.T) {
	e := newEnv(t)

	var msg models.Message
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/messages",
		models.SendMessageRequest{SenderID: "ana", RecipientID: "ben", Content: "hi"}, &msg))

	var receipt models.ReadReceipt
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/conversations/"+msg.ConversationID+"/read",
		map[string]string{"reader_id": "ben"}, &receipt))
	assert.Equal(t, msg.ID, receipt.LastMessageID)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/api/conversations/"+msg.ConversationID+"/read",
		map[string]string{"reader_id": "eve"}, nil))
}

func TestChurches_RequestFlow(t *testing.T) {
	e := newEnv(t)

	var church models.Church
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/churches",
		models.CreateChurchRequest{Name: "Grace", OwnerID: "pastor"}, &church))

	var req models.MembershipRequest
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/churches/"+church.ID+"/requests",
		models.JoinChurchRequest{UserID: "maria"}, &req))

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/churches/"+church.ID+"/requests?actor_id=maria", nil, nil))

	var pending []models.MembershipRequest
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/churches/"+church.ID+"/requests?actor_id=pastor", nil, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)

	base := "/api/churches/" + church.ID + "/requests/" + req.ID
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, base+"/maybe", models.ProcessRequestBody{ActorID: "pastor"}, nil))

	var processed models.MembershipRequest
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, base+"/approve", models.ProcessRequestBody{ActorID: "pastor"}, &processed))
	assert.Equal(t, models.RequestApproved, processed.Status)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, base+"/reject", models.ProcessRequestBody{ActorID: "pastor"}, nil))

	var member models.Member
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/churches/"+church.ID+"/members/maria",
		models.SetRoleRequest{ActorID: "pastor", Role: models.RoleModerator}, &member))
	assert.Equal(t, models.RoleModerator, member.Role)

	var members []models.Member
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/churches/"+church.ID+"/members", nil, &members))
	assert.Len(t, members, 2)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/churches/"+church.ID+"/requests?actor_id=pastor&status=odd", nil, nil))
}

func multipartBody(t *testing.T, name string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	e := newEnv(t)

	body, contentType := multipartBody(t, "notes.txt", []byte("hello"))
	resp, err := http.Post(e.srv.URL+"/api/uploads", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var att models.Attachment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&att))
	assert.Equal(t, "notes.txt", att.Name)
	assert.Equal(t, int64(5), att.Size)
	assert.True(t, strings.HasPrefix(att.URL, "http://api.test/uploads/"))

	stored := strings.TrimPrefix(att.URL, "http://api.test/uploads/")
	raw, err := os.ReadFile(filepath.Join(e.uploadDir, stored))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))

	served, err := http.Get(e.srv.URL + "/uploads/" + stored)
	require.NoError(t, err)
	defer served.Body.Close()
	assert.Equal(t, http.StatusOK, served.StatusCode)
}

func TestUpload_ServedAsDownload(t *testing.T) {
	e := newEnv(t)

	body, contentType := multipartBody(t, "page.html", []byte("<script>alert(1)</script>"))
	resp, err := http.Post(e.srv.URL+"/api/uploads", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var att models.Attachment
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&att))

	served, err := http.Get(e.srv.URL + "/uploads/" + strings.TrimPrefix(att.URL, "http://api.test/uploads/"))
	require.NoError(t, err)
	defer served.Body.Close()
	require.Equal(t, http.StatusOK, served.StatusCode)
	assert.Equal(t, "attachment", served.Header.Get("Content-Disposition"))
	assert.Equal(t, "nosniff", served.Header.Get("X-Content-Type-Options"))
	assert.Contains(t, served.Header.Get("Content-Security-Policy"), "sandbox")
}

func TestUpload_TooLarge(t *testing.T) {
	e := newEnv(t)

	body, contentType := multipartBody(t, "big.bin", bytes.Repeat([]byte("x"), 2048))
	resp, err := http.Post(e.srv.URL+"/api/uploads", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	var errBody ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	assert.Equal(t, "file too large, max size is 1.0 KiB", errBody.Error)
}

func TestUpload_MissingFile(t *testing.T) {
	e := newEnv(t)

	resp, err := http.Post(e.srv.URL+"/api/uploads", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
