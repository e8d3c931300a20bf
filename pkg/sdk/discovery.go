package sdk

import (
	"crypto/tls"
	"net/http"
	"os"
	"time"
)

// DefaultURL is used when OPENCLAPP_URL is unset.
const DefaultURL = "http://localhost:8080"

// FromEnv builds a client from the environment:
//
//	OPENCLAPP_URL           daemon base URL
//	OPENCLAPP_ADMIN_SECRET  secret for the wipe endpoints
//	OPENCLAPP_INSECURE_TLS  "true" to accept the daemon's self-signed certificate
func FromEnv() (*Client, error) {
	base := os.Getenv("OPENCLAPP_URL")
	if base == "" {
		base = DefaultURL
	}
	c, err := NewClient(base)
	if err != nil {
		return nil, err
	}
	c.AdminSecret = os.Getenv("OPENCLAPP_ADMIN_SECRET")

	if os.Getenv("OPENCLAPP_INSECURE_TLS") == "true" {
		c.HTTP = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}
	return c, nil
}
