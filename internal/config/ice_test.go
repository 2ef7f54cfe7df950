package config

import "testing"

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {
	    "urls": ["stun:stun.example.com:3478"]
	  },
	  {
	    "urls": "turn:turn.example.com:3478",
	    "username": "user",
	    "credential": "pass"
	  }
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("ParseICEServersJSON: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("servers[0].URLs=%v", servers[0].URLs)
	}
	if servers[1].Username != "user" {
		t.Fatalf("servers[1].Username=%q, want user", servers[1].Username)
	}
	if cred, _ := servers[1].Credential.(string); cred != "pass" {
		t.Fatalf("servers[1].Credential=%v, want pass", servers[1].Credential)
	}
}

func TestParseICEServersJSON_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "stun:stun.example.com"},
		{"missing urls", `[{"username":"u"}]`},
		{"bad scheme", `[{"urls":["http://example.com"]}]`},
		{"turn without username", `[{"urls":["turn:turn.example.com"],"credential":"pass"}]`},
		{"turn without credential", `[{"urls":["turn:turn.example.com"],"username":"user"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseICEServersJSON(tt.raw); err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestConvenienceStunTurnValues(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersFromConvenienceValues(
		"stun:stun1.example.com, stun:stun2.example.com",
		"turn:turn.example.com:3478",
		"user", "pass",
	)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Fatalf("stun URLs=%v, want 2 entries", servers[0].URLs)
	}

	if _, err := parseICEServersFromConvenienceValues("", "turn:turn.example.com", "", ""); err == nil {
		t.Fatalf("expected error for TURN without credentials")
	}
}

func TestICEServersJSONTakesPrecedence(t *testing.T) {
	t.Parallel()

	servers, err := parseICEServersFromValues(
		`[{"urls":["stun:json.example.com"]}]`,
		"stun:ignored.example.com", "", "", "",
	)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example.com" {
		t.Fatalf("servers=%v, want only the JSON entry", servers)
	}
}
