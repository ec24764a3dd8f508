package caldav

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestObjectPath(t *testing.T) {
	tests := []struct {
		calendar, uid, want string
	}{
		{"/123/calendars/work/", "abc", "/123/calendars/work/abc.ics"},
		{"/123/calendars/work", "abc", "/123/calendars/work/abc.ics"},
	}
	for _, tt := range tests {
		if got := objectPath(tt.calendar, tt.uid); got != tt.want {
			t.Errorf("objectPath(%q, %q) = %q, want %q", tt.calendar, tt.uid, got, tt.want)
		}
	}
}

func TestCustomTransportAddsAuth(t *testing.T) {
	var user, pass, agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		agent = r.UserAgent()
	}))
	defer srv.Close()

	client := &http.Client{Transport: &customTransport{
		Username:  "therapist@example.com",
		Password:  "app-password",
		Transport: http.DefaultTransport,
	}}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()

	if user != "therapist@example.com" || pass != "app-password" {
		t.Fatalf("unexpected credentials %q / %q", user, pass)
	}
	if agent != "therapycal/1.0" {
		t.Fatalf("unexpected user agent %q", agent)
	}
}
