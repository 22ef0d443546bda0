package gcs

import (
	"testing"

	appconfig "github.com/apk-registry/apk-registry/internal/config"
)

// ---------------------------------------------------------------------------
// New() constructor validation (no GCS connection required)
// ---------------------------------------------------------------------------

func TestNew_MissingBucket(t *testing.T) {
	_, err := New(&appconfig.GCSStorageConfig{})
	if err == nil {
		t.Error("New() = nil error, want error for missing bucket")
	}
}

func TestNew_ServiceAccountNoCredentials(t *testing.T) {
	_, err := New(&appconfig.GCSStorageConfig{Bucket: "apks", AuthMethod: "service_account"})
	if err == nil {
		t.Error("New() = nil error, want error for service_account without credentials")
	}
}

func TestNew_UnsupportedAuthMethod(t *testing.T) {
	_, err := New(&appconfig.GCSStorageConfig{Bucket: "apks", AuthMethod: "not-a-valid-method"})
	if err == nil {
		t.Error("New() = nil error, want error for unsupported auth_method")
	}
}

func TestNew_ServiceAccountWithCredentialsFile(t *testing.T) {
	// follows the credentials-file path; may fail at client creation
	_, _ = New(&appconfig.GCSStorageConfig{
		Bucket:          "apks",
		AuthMethod:      "service_account",
		CredentialsFile: "/nonexistent/credentials.json",
	})
}

func TestResolveAuthMethod(t *testing.T) {
	tests := []struct {
		cfg  appconfig.GCSStorageConfig
		want string
	}{
		{appconfig.GCSStorageConfig{}, "default"},
		{appconfig.GCSStorageConfig{CredentialsJSON: "{}"}, "service_account"},
		{appconfig.GCSStorageConfig{CredentialsFile: "/k.json"}, "service_account"},
		{appconfig.GCSStorageConfig{AuthMethod: "workload_identity", CredentialsFile: "/k.json"}, "workload_identity"},
	}
	for _, tt := range tests {
		if got := resolveAuthMethod(&tt.cfg); got != tt.want {
			t.Errorf("resolveAuthMethod(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestLocationKey(t *testing.T) {
	s := &GCSStorage{bucket: "apks"}
	loc := s.Location("staging/app.apk")
	if loc != "gs://apks/staging/app.apk" {
		t.Errorf("Location() = %q", loc)
	}
	if key, ok := s.Key(loc); !ok || key != "staging/app.apk" {
		t.Errorf("Key() = %q, %v", key, ok)
	}
	if _, ok := s.Key("gs://other/app.apk"); ok {
		t.Error("Key() accepted a foreign bucket")
	}
	if _, ok := s.Key("gs://apks/"); ok {
		t.Error("Key() accepted an empty object name")
	}
}
