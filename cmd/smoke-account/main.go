package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"time"
)

// End-to-end smoke against a running account-api (and its IdP behind it):
// register, login, read back, delete.
func main() {
	base := os.Getenv("ACCOUNT_API_ADDR")
	if base == "" {
		base = "http://localhost:8080"
	}

	client := &http.Client{Timeout: 10 * time.Second}
	email := fmt.Sprintf("smoke-%d@example.com", rand.Int())
	password := fmt.Sprintf("pw-%d", rand.Int())

	// register
	var registered struct {
		Account struct {
			ID         string `json:"id"`
			IdPSubject string `json:"idpSubject"`
			Email      string `json:"email"`
		} `json:"account"`
		Tokens struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
		} `json:"tokens"`
	}
	status := postJSON(client, base+"/v1/auth/register", map[string]any{
		"email":     email,
		"password":  password,
		"firstName": "Smoke",
		"lastName":  "Test",
	}, &registered)
	if status != http.StatusCreated {
		log.Fatalf("register: unexpected status %d", status)
	}
	if registered.Account.IdPSubject == "" {
		log.Fatal("register: empty idp subject")
	}
	if registered.Tokens.AccessToken == "" {
		log.Fatal("register: empty access token")
	}

	// login with the same credentials
	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	status = postJSON(client, base+"/v1/auth/login", map[string]any{
		"email":    email,
		"password": password,
	}, &pair)
	if status != http.StatusOK {
		log.Fatalf("login: unexpected status %d", status)
	}
	if pair.AccessToken == "" {
		log.Fatal("login: empty access token")
	}

	// read back by email
	var fetched struct {
		ID         string `json:"id"`
		IdPSubject string `json:"idpSubject"`
		Email      string `json:"email"`
	}
	resp, err := client.Get(base + "/v1/accounts/by-email?email=" + url.QueryEscape(email))
	if err != nil {
		log.Fatalf("get by email: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		log.Fatalf("get by email: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		resp.Body.Close()
		log.Fatalf("get by email: decode: %v", err)
	}
	resp.Body.Close()
	if fetched.IdPSubject != registered.Account.IdPSubject {
		log.Fatalf("subject mismatch: %s != %s", fetched.IdPSubject, registered.Account.IdPSubject)
	}

	// delete
	req, err := http.NewRequest(http.MethodDelete, base+"/v1/accounts?email="+url.QueryEscape(email), nil)
	if err != nil {
		log.Fatalf("delete: %v", err)
	}
	resp, err = client.Do(req)
	if err != nil {
		log.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		log.Fatalf("delete: unexpected status %d", resp.StatusCode)
	}

	fmt.Printf("✅ account-api smoke test passed: account=%s subject=%s\n", fetched.ID, fetched.IdPSubject)
}

func postJSON(client *http.Client, target string, payload any, out any) int {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Fatalf("encode %s: %v", target, err)
	}
	resp, err := client.Post(target, "application/json", bytes.NewReader(raw))
	if err != nil {
		log.Fatalf("post %s: %v", target, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			log.Fatalf("decode %s: %v", target, err)
		}
	}
	return resp.StatusCode
}
