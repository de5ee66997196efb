package ai

import "testing"

func TestNewClient(t *testing.T) {
	tests := []struct {
		name     string
		proxyURL string
		wantErr  bool
	}{
		{
			name: "no proxy",
		},
		{
			name:     "http proxy",
			proxyURL: "http://proxy.example.com:8080",
		},
		{
			name:     "https proxy",
			proxyURL: "https://proxy.example.com:8443",
		},
		{
			name:     "invalid proxy scheme",
			proxyURL: "socks5://proxy.example.com:1080",
			wantErr:  true,
		},
		{
			name:     "unparseable proxy",
			proxyURL: "http://[::1]:namedport",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient("sk-ant-test123", "claude-sonnet-4-5-20250929", tt.proxyURL, 120, 2000)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewClient failed: %v", err)
			}
			if client.model != "claude-sonnet-4-5-20250929" {
				t.Errorf("model = %q", client.model)
			}
			if client.maxTokens != 2000 {
				t.Errorf("maxTokens = %d, want 2000", client.maxTokens)
			}
		})
	}
}

func TestClientProviderName(t *testing.T) {
	client, err := NewClient("sk-ant-test123", "claude-sonnet-4-5-20250929", "", 120, 2000)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if got := client.GetProviderName(); got != "Anthropic" {
		t.Errorf("GetProviderName() = %q, want %q", got, "Anthropic")
	}
}
