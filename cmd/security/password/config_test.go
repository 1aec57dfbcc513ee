package password

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Policy.MinLength != 8 || cfg.Policy.MaxLength != 256 {
		t.Fatalf("unexpected default policy: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 64*1024 || cfg.Params.Iterations != 3 {
		t.Fatalf("unexpected default params: %+v", cfg.Params)
	}
	if cfg.Params.Parallelism < 1 || cfg.Params.Parallelism > 4 {
		t.Fatalf("parallelism not clamped: %d", cfg.Params.Parallelism)
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("PARLEY_PASSWORD_MIN_LEN", "10")
	t.Setenv("PARLEY_PASSWORD_MAX_LEN", "200")
	t.Setenv("PARLEY_PASSWORD_REJECT_VERY_WEAK", "false")
	t.Setenv("PARLEY_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("PARLEY_ARGON2_ITERATIONS", "4")
	t.Setenv("PARLEY_ARGON2_PARALLELISM", "2")
	t.Setenv("PARLEY_ARGON2_SALT_LEN", "24")
	t.Setenv("PARLEY_ARGON2_KEY_LEN", "32")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 || cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != 24 || cfg.Params.KeyLength != 32 {
		t.Fatalf("len override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "min above max", env: map[string]string{"PARLEY_PASSWORD_MIN_LEN": "20", "PARLEY_PASSWORD_MAX_LEN": "10"}},
		{name: "memory too small", env: map[string]string{"PARLEY_ARGON2_MEMORY_KIB": "16"}},
		{name: "not a number", env: map[string]string{"PARLEY_ARGON2_ITERATIONS": "three"}},
		{name: "bad bool", env: map[string]string{"PARLEY_PASSWORD_REJECT_VERY_WEAK": "maybe"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
