package invitations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecheck/backend/internal/auth"
	"github.com/pulsecheck/backend/internal/models"
)

func init() { gin.SetMode(gin.TestMode) }

func acceptRouter(h *harness) *gin.Engine {
	r := gin.New()
	r.GET("/auth/invite/:token", NewHandler(h.svc, "https://app.example.com", nil).Accept)
	return r
}

func get(r *gin.Engine, path string, html bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if html {
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAcceptHandler(t *testing.T) {
	h := newHarness(t)
	r := acceptRouter(h)
	start := h.now
	leader, err := h.svc.Issue(context.Background(), h.admin, IssueInput{Email: "l@example.com", Role: "leader"})
	require.NoError(t, err)
	employee, err := h.svc.Issue(context.Background(), h.admin, IssueInput{Email: "e@example.com", Role: "employee"})
	require.NoError(t, err)

	w := get(r, "/auth/invite/"+leader.Token, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"next":"register"`)

	w = get(r, "/auth/invite/"+leader.Token, true)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "https://app.example.com/register?session="))

	w = get(r, "/auth/invite/"+employee.Token, true)
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "https://app.example.com/employee-assessment?session="))

	w = get(r, "/auth/invite/bogus", true)
	assert.Equal(t, "https://app.example.com/login?error=invalid_token", w.Header().Get("Location"))
	assert.Equal(t, http.StatusNotFound, get(r, "/auth/invite/bogus", false).Code)

	h.store.byEmail("e@example.com").Used = true
	w = get(r, "/auth/invite/"+employee.Token, true)
	assert.Equal(t, "https://app.example.com/login?error=already_used", w.Header().Get("Location"))
	assert.Equal(t, http.StatusGone, get(r, "/auth/invite/"+employee.Token, false).Code)

	h.now = start.Add(2 * time.Hour)
	w = get(r, "/auth/invite/"+leader.Token, true)
	assert.Equal(t, "https://app.example.com/login?error=expired_token", w.Header().Get("Location"))
}

func TestOrgDetailsHandler(t *testing.T) {
	h := newHarness(t)
	h.store.orgRows = map[string][]OrgMemberRow{"Acme": {{IssuedInvitationRow: IssuedInvitationRow{
		Invitation: &models.Invitation{ID: uuid.New(), Email: "lee@example.com", Role: models.RoleLeader, ExpiredAt: h.now.Add(time.Hour)},
	}}}}
	hd := NewHandler(h.svc, "https://app.example.com", nil)
	router := func(id auth.Identity) *gin.Engine {
		r := gin.New()
		r.GET("/organizations/:orgName", func(c *gin.Context) { auth.SetIdentity(c, id) }, hd.OrgDetails)
		return r
	}

	w := get(router(h.admin), "/organizations/Acme", false)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data OrgDetails `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Acme", body.Data.Details.OrgName)
	require.Len(t, body.Data.Members, 1)
	assert.Equal(t, MemberNotStarted, body.Data.Members[0].AssessmentStatus)

	assert.Equal(t, http.StatusForbidden, get(router(h.admin), "/organizations/Globex", false).Code)
	assert.Equal(t, http.StatusOK, get(router(h.superAdmin), "/organizations/Globex", false).Code)
}
