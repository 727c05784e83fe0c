// Package auth implements the login/register form handler invoked
// when a decoded POST form targets the /login or /register landing,
// grounded on httprequest.cpp's user_verify and the redesign note in
// §9 restating its inverted register logic: registration succeeds iff
// the username was previously absent AND the insert succeeded, not the
// OR the original computed.
package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/yourusername/ember/internal/dbpool"
)

// Outcome is the landing path a submitted form resolves to.
type Outcome struct {
	RedirectPath string
	Succeeded    bool
}

const (
	welcomePath = "/welcome.html"
	errorPath   = "/error.html"
)

// Handle resolves a decoded login/register form against the database.
// tag selects which flow ran; it is "login" or "register", matching
// the path the request was posted to.
func Handle(ctx context.Context, pool *dbpool.Pool, tag string, form map[string]string) (Outcome, error) {
	username := form["username"]
	password := form["password"]
	if username == "" || password == "" {
		return Outcome{RedirectPath: errorPath}, nil
	}

	var out Outcome
	err := pool.WithConn(ctx, func(h *dbpool.Handle) error {
		var storedPassword string
		row := h.QueryRow(ctx, "SELECT password FROM user WHERE username = ? LIMIT 1", username)
		err := row.Scan(&storedPassword)

		switch {
		case err == nil:
			// a matching row exists
			if tag == "login" {
				out = loginOutcome(storedPassword == password)
				return nil
			}
			// register against an existing username is a duplicate
			out = Outcome{RedirectPath: errorPath}
			return nil

		case errors.Is(err, sql.ErrNoRows):
			if tag == "login" {
				// no such user: login always fails
				out = Outcome{RedirectPath: errorPath}
				return nil
			}
			_, insertErr := h.Exec(ctx, "INSERT INTO user(username, password) VALUES (?, ?)", username, password)
			out = registerOutcome(insertErr == nil)
			return insertErr

		default:
			out = Outcome{RedirectPath: errorPath}
			return err
		}
	})

	if err != nil {
		// the DB failure already produced an error-page Outcome above;
		// the caller treats the request as handled, not as a 500.
		return out, nil
	}
	return out, nil
}

func loginOutcome(matched bool) Outcome {
	if matched {
		return Outcome{RedirectPath: welcomePath, Succeeded: true}
	}
	return Outcome{RedirectPath: errorPath}
}

func registerOutcome(inserted bool) Outcome {
	if inserted {
		return Outcome{RedirectPath: welcomePath, Succeeded: true}
	}
	return Outcome{RedirectPath: errorPath}
}
