package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/accounts":                    "/v1/accounts",
		"/v1/accounts/by-email":           "/v1/accounts/by-email",
		"/v1/accounts/by-email?email=a":   "/v1/accounts/by-email",
		"/v1/accounts/01ABC":              "/v1/accounts/:id",
		"/v1/accounts/01ABC/activate":     "/v1/accounts/:id/activate",
		"/v1/accounts/01ABC/deactivate":   "/v1/accounts/:id/deactivate",
		"/v1/accounts/subject/u-1":        "/v1/accounts/subject/:subject",
		"/v1/auth/login":                  "/v1/auth/login",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
