package transport

import "testing"

func TestValidateClientTransport(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "development defaults ok",
			cfg:  DefaultConfig(),
		},
		{
			name:    "invalid mode",
			cfg:     Config{SecurityMode: "bogus"},
			wantErr: ErrInvalidSecurityMode,
		},
		{
			name:    "production requires tls",
			cfg:     Config{SecurityMode: SecurityModeProduction},
			wantErr: ErrTLSRequired,
		},
		{
			name: "production requires mutual",
			cfg: Config{
				SecurityMode: SecurityModeProduction,
				TLS:          TLSConfig{Enabled: true},
			},
			wantErr: ErrMTLSRequired,
		},
		{
			name: "production forbids insecure skip verify",
			cfg: Config{
				SecurityMode: SecurityModeProduction,
				TLS:          TLSConfig{Enabled: true, Mutual: true, InsecureSkipVerify: true, CertFile: "c", KeyFile: "k", CAFile: "ca"},
			},
			wantErr: ErrTLSInsecureSkipNotAllow,
		},
		{
			name: "mutual without enabled",
			cfg:  Config{SecurityMode: SecurityModeDevelopment, TLS: TLSConfig{Mutual: true}},
			wantErr: ErrTLSRequired,
		},
		{
			name: "tls without ca file",
			cfg:  Config{SecurityMode: SecurityModeDevelopment, TLS: TLSConfig{Enabled: true}},
			wantErr: ErrTLSCAFileRequired,
		},
		{
			name: "mutual missing cert",
			cfg: Config{
				SecurityMode: SecurityModeDevelopment,
				TLS:          TLSConfig{Enabled: true, Mutual: true, CAFile: "ca", KeyFile: "k"},
			},
			wantErr: ErrTLSCertFileRequired,
		},
		{
			name: "mutual missing key",
			cfg: Config{
				SecurityMode: SecurityModeDevelopment,
				TLS:          TLSConfig{Enabled: true, Mutual: true, CAFile: "ca", CertFile: "c"},
			},
			wantErr: ErrTLSKeyFileRequired,
		},
		{
			name: "valid mutual tls",
			cfg: Config{
				SecurityMode: SecurityModeDevelopment,
				TLS:          TLSConfig{Enabled: true, Mutual: true, CAFile: "ca", CertFile: "c", KeyFile: "k"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.ValidateClientTransport()
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateClientTransport() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateClientTransport() = nil, want %v", tc.wantErr)
			}
		})
	}
}

func TestValidateServerTransport(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "development defaults ok",
			cfg:  DefaultConfig(),
		},
		{
			name:    "production requires mutual",
			cfg:     Config{SecurityMode: SecurityModeProduction, TLS: TLSConfig{Enabled: true}},
			wantErr: true,
		},
		{
			name:    "enabled without cert",
			cfg:     Config{SecurityMode: SecurityModeDevelopment, TLS: TLSConfig{Enabled: true}},
			wantErr: true,
		},
		{
			name: "enabled with cert and key",
			cfg: Config{
				SecurityMode: SecurityModeDevelopment,
				TLS:          TLSConfig{Enabled: true, CertFile: "c", KeyFile: "k"},
			},
		},
		{
			name:    "mutual without ca",
			cfg:     Config{SecurityMode: SecurityModeDevelopment, TLS: TLSConfig{Enabled: true, Mutual: true, CertFile: "c", KeyFile: "k"}},
			wantErr: true,
		},
		{
			name: "mutual with ca",
			cfg: Config{
				SecurityMode: SecurityModeDevelopment,
				TLS:          TLSConfig{Enabled: true, Mutual: true, CertFile: "c", KeyFile: "k", CAFile: "ca"},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.ValidateServerTransport()
			if tc.wantErr && err == nil {
				t.Fatalf("ValidateServerTransport() = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("ValidateServerTransport() = %v, want nil", err)
			}
		})
	}
}
