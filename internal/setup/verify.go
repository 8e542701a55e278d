package setup

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"github.com/njoerd114/growrelay/internal/model"
)

// Authenticator logs in to Hatch. Implemented by hatch.Client.
type Authenticator interface {
	Login(ctx context.Context, creds model.Credentials) (*model.Session, error)
}

// VerifyHatch logs in with creds and returns the subjects on the account.
func VerifyHatch(ctx context.Context, auth Authenticator, creds model.Credentials) ([]model.Subject, error) {
	if !creds.Complete() {
		return nil, fmt.Errorf("email and password are required")
	}
	sess, err := auth.Login(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("logging in to Hatch: %w", err)
	}
	return sess.Subjects, nil
}

// ServiceAccountEmail reads a Google service-account key file and returns
// the account's e-mail address. It fails if the file is not a service-account
// key.
func ServiceAccountEmail(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading service account file: %w", err)
	}
	jwt, err := google.JWTConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return "", fmt.Errorf("parsing service account file %q: %w", path, err)
	}
	if jwt.Email == "" {
		return "", fmt.Errorf("service account file %q has no client_email", path)
	}
	return jwt.Email, nil
}
