package firebaseapp

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// Credentials are the service-account fields from the Firebase console
// (Project Settings -> Service Accounts -> Generate New Private Key).
type Credentials struct {
	ProjectID     string
	ClientEmail   string
	PrivateKey    string
	StorageBucket string
}

// New initializes the Firebase app shared by Firestore, Storage and
// Messaging. When no private key is configured the SDK falls back to
// application default credentials.
func New(ctx context.Context, creds Credentials) (*firebase.App, error) {
	conf := &firebase.Config{
		ProjectID:     creds.ProjectID,
		StorageBucket: creds.StorageBucket,
	}

	var opts []option.ClientOption
	if creds.PrivateKey != "" {
		// .env files carry the PEM key with literal "\n" sequences.
		privateKey := strings.ReplaceAll(creds.PrivateKey, "\\n", "\n")
		credsJSON := fmt.Sprintf(`{
		"type": "service_account",
		"project_id": %q,
		"private_key": %q,
		"client_email": %q,
		"token_uri": "https://oauth2.googleapis.com/token"
	}`, creds.ProjectID, privateKey, creds.ClientEmail)
		opts = append(opts, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	return app, nil
}
