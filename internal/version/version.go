package version

// Value is overridden at build time via -ldflags "-X .../internal/version.Value=v1.2.3".
var Value = "dev"
