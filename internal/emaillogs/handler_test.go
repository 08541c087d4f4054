package emaillogs

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestParseFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query string
		want  Filter
		ok    bool
	}{
		{"", Filter{}, true},
		{"?recipient=a@acme.io&status=failed&limit=20", Filter{Recipient: "a@acme.io", Status: "failed", Limit: 20}, true},
		{"?status=bounced", Filter{Status: "bounced"}, false},
		{"?limit=-1", Filter{}, false},
		{"?limit=ten", Filter{}, false},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/email-logs"+tc.query, nil)
		got, ok := ParseFilter(c)
		assert.Equal(t, tc.ok, ok, tc.query)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.query)
		}
	}
}
