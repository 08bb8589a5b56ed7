package api

import (
	"context"
	"crypto/subtle"
	"strings"

	"reservas/internal/config"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

const (
	apiKeyHeaderDefault   = "x-api-key"
	apiExtraHeaderDefault = "x-api-extra"
	permReadAvailability  = "read:availability"
	clientKeyUnknown      = "unknown"
	healthServicePrefix   = "/grpc.health.v1.Health/"
)

// methodPermissions lists the permission each availability method needs.
var methodPermissions = map[string]string{
	methodFindAvailableRooms: permReadAvailability,
	methodCheckRoom:          permReadAvailability,
}

// AuthInterceptor authenticates machine clients by API key plus a shared
// extra header and applies a token bucket per client.
type AuthInterceptor struct {
	enabled     bool
	keyHeader   string
	extraHeader string
	clients     map[string]config.APIClientKey
	limiter     *rateLimiter
}

func NewAuthInterceptor(cfg *config.APIConfig) *AuthInterceptor {
	clients := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		clients[k.Key] = k
	}

	return &AuthInterceptor{
		enabled:     cfg.Auth.Enabled,
		keyHeader:   headerName(cfg.Auth.HeaderAPIKey, apiKeyHeaderDefault),
		extraHeader: headerName(cfg.Auth.HeaderExtra, apiExtraHeaderDefault),
		clients:     clients,
		limiter:     newRateLimiter(cfg.RateLimit),
	}
}

func (a *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, healthServicePrefix) {
			return handler(ctx, req)
		}

		limitKey := remoteAddr(ctx)
		if a.enabled {
			client, err := a.authenticate(ctx)
			if err != nil {
				return nil, err
			}
			if err := authorize(client, info.FullMethod); err != nil {
				return nil, err
			}
			limitKey = "client:" + client.Key
		}

		if a.limiter.enabled() && !a.limiter.allow(limitKey) {
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

func (a *AuthInterceptor) authenticate(ctx context.Context) (config.APIClientKey, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return config.APIClientKey{}, status.Error(codes.Unauthenticated, "missing metadata")
	}

	key := first(md.Get(a.keyHeader))
	extra := first(md.Get(a.extraHeader))
	if key == "" || extra == "" {
		return config.APIClientKey{}, status.Error(codes.Unauthenticated, "missing api key headers")
	}

	client, ok := a.clients[key]
	if !ok {
		return config.APIClientKey{}, status.Error(codes.Unauthenticated, "invalid api key")
	}
	if subtle.ConstantTimeCompare([]byte(client.Extra), []byte(extra)) != 1 {
		return config.APIClientKey{}, status.Error(codes.Unauthenticated, "invalid extra header")
	}
	return client, nil
}

// authorize treats an empty permission list as allow-all.
func authorize(client config.APIClientKey, fullMethod string) error {
	required, ok := methodPermissions[fullMethod]
	if !ok || len(client.Permissions) == 0 {
		return nil
	}
	for _, p := range client.Permissions {
		if strings.TrimSpace(p) == required {
			return nil
		}
	}
	return status.Errorf(codes.PermissionDenied, "%s requires %s", client.Name, required)
}

func remoteAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return clientKeyUnknown
}

func headerName(configured, fallback string) string {
	h := strings.ToLower(strings.TrimSpace(configured))
	if h == "" {
		return fallback
	}
	return h
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
