//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/keyward/apiserver/internal/server"
	"github.com/keyward/apiserver/internal/services"
)

const strongPassword = "Str0ng!Pass"

type response struct {
	status int
	body   map[string]any
}

func do(method, path, bearer string, payload any) response {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		Expect(err).NotTo(HaveOccurred())
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, env.server.URL+path, body)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	out := response{status: resp.StatusCode, body: map[string]any{}}
	Expect(json.NewDecoder(resp.Body).Decode(&out.body)).To(Succeed())
	return out
}

// uniqueUser returns identity fields that do not collide across specs.
func uniqueUser() (username, email string) {
	suffix := ulid.Make().String()[18:]
	return "u" + suffix, fmt.Sprintf("u%s@example.com", suffix)
}

func register(username, email string, phone *string) response {
	payload := map[string]any{
		"username": username,
		"password": strongPassword,
		"email":    email,
	}
	if phone != nil {
		payload["phone"] = *phone
	}
	return do(http.MethodPost, "/auth/register", "", payload)
}

func login(username, password string) response {
	return do(http.MethodPost, "/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
}

var _ = Describe("Account lifecycle", func() {
	It("registers, logs in and reads the account back", func() {
		username, email := uniqueUser()

		resp := register(username, email, nil)
		Expect(resp.status).To(Equal(http.StatusOK))
		Expect(resp.body).To(HaveKeyWithValue("username", username))
		Expect(resp.body).To(HaveKeyWithValue("email", email))
		Expect(resp.body).NotTo(HaveKey("password_hash"))

		resp = login(username, strongPassword)
		Expect(resp.status).To(Equal(http.StatusOK))
		Expect(resp.body).To(HaveKeyWithValue("token_type", "bearer"))
		token, _ := resp.body["access_token"].(string)
		Expect(token).NotTo(BeEmpty())

		resp = do(http.MethodGet, "/auth/me", token, nil)
		Expect(resp.status).To(Equal(http.StatusOK))
		Expect(resp.body).To(HaveKeyWithValue("username", username))
	})

	It("stores the password only as a hash", func() {
		username, email := uniqueUser()
		Expect(register(username, email, nil).status).To(Equal(http.StatusOK))

		var stored string
		err := env.db.QueryRowContext(context.Background(),
			`SELECT password_hash FROM accounts WHERE username = $1`, username).Scan(&stored)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).NotTo(Equal(strongPassword))
		Expect(stored).To(HavePrefix("$2"))
	})

	It("rejects duplicate usernames, emails and phones", func() {
		username, email := uniqueUser()
		phone := "+1555" + ulid.Make().String()[20:]
		Expect(register(username, email, &phone).status).To(Equal(http.StatusOK))

		other, otherEmail := uniqueUser()

		By("reusing the username")
		resp := register(username, otherEmail, nil)
		Expect(resp.status).To(Equal(http.StatusBadRequest))
		Expect(resp.body).To(HaveKeyWithValue("error", services.ErrAlreadyRegistered.Error()))

		By("reusing the email")
		Expect(register(other, email, nil).status).To(Equal(http.StatusBadRequest))

		By("reusing the phone")
		Expect(register(other, otherEmail, &phone).status).To(Equal(http.StatusBadRequest))

		By("leaving the phone out twice")
		third, thirdEmail := uniqueUser()
		Expect(register(other, otherEmail, nil).status).To(Equal(http.StatusOK))
		Expect(register(third, thirdEmail, nil).status).To(Equal(http.StatusOK))
	})

	It("gives the same answer for an unknown user and a wrong password", func() {
		username, email := uniqueUser()
		Expect(register(username, email, nil).status).To(Equal(http.StatusOK))

		wrong := login(username, "Wr0ng!Pass")
		missing := login("nobody"+username, strongPassword)
		Expect(wrong.status).To(Equal(http.StatusUnauthorized))
		Expect(missing.status).To(Equal(http.StatusUnauthorized))
		Expect(wrong.body).To(Equal(missing.body))
	})
})

var _ = Describe("Password reset", func() {
	It("resets the password once with the emailed token", func() {
		username, email := uniqueUser()
		Expect(register(username, email, nil).status).To(Equal(http.StatusOK))

		resp := do(http.MethodPost, "/auth/password-reset-request", "", map[string]string{"username": username})
		Expect(resp.status).To(Equal(http.StatusOK))
		Expect(resp.body).To(HaveKeyWithValue("message", services.ResetRequestedMessage))

		var notice services.ResetNotice
		Eventually(func() bool {
			var ok bool
			notice, ok = env.inbox.latest(username)
			return ok
		}).WithTimeout(5 * time.Second).Should(BeTrue())
		Expect(notice.Email).To(Equal(email))

		newPassword := "N3w!Password"
		resp = do(http.MethodPost, "/auth/reset-password", "", map[string]string{
			"token":            notice.Token,
			"new_password":     newPassword,
			"confirm_password": newPassword,
		})
		Expect(resp.status).To(Equal(http.StatusOK))
		Expect(resp.body).To(HaveKeyWithValue("message", services.PasswordResetMessage))

		Expect(login(username, strongPassword).status).To(Equal(http.StatusUnauthorized))
		Expect(login(username, newPassword).status).To(Equal(http.StatusOK))

		By("replaying the token")
		resp = do(http.MethodPost, "/auth/reset-password", "", map[string]string{
			"token":            notice.Token,
			"new_password":     "An0ther!Pass",
			"confirm_password": "An0ther!Pass",
		})
		Expect(resp.status).To(Equal(http.StatusUnauthorized))
	})

	It("answers identically for unknown accounts and sends nothing", func() {
		username, _ := uniqueUser()
		resp := do(http.MethodPost, "/auth/password-reset-request", "", map[string]string{"username": username})
		Expect(resp.status).To(Equal(http.StatusOK))
		Expect(resp.body).To(HaveKeyWithValue("message", services.ResetRequestedMessage))

		env.service.Wait()
		Expect(env.inbox.count(username)).To(Equal(0))
	})

	It("refuses an access token as a reset token", func() {
		username, email := uniqueUser()
		Expect(register(username, email, nil).status).To(Equal(http.StatusOK))
		access, _ := login(username, strongPassword).body["access_token"].(string)

		resp := do(http.MethodPost, "/auth/reset-password", "", map[string]string{
			"token":            access,
			"new_password":     "N3w!Password",
			"confirm_password": "N3w!Password",
		})
		Expect(resp.status).To(Equal(http.StatusUnauthorized))
	})
})

var _ = Describe("Server wiring", func() {
	It("serves health and auth routes from the configured Postgres store", func() {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		srv, err := server.New(context.Background(), env.cfg, logger)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			Expect(srv.Shutdown(ctx)).To(Succeed())
		})

		ts := httptest.NewServer(srv.Router())
		DeferCleanup(ts.Close)

		resp, err := http.Get(ts.URL + "/healthz")
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		username, email := uniqueUser()
		data, _ := json.Marshal(map[string]string{
			"username": username,
			"password": strongPassword,
			"email":    email,
		})
		resp, err = http.Post(ts.URL+"/auth/register", "application/json", bytes.NewReader(data))
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
