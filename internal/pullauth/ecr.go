// Package pullauth supplies registry credentials for image pulls.
package pullauth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	sdkconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/docker/docker/api/types/registry"
	"go.uber.org/zap"

	"mcpfleet/internal/cache"
	"mcpfleet/internal/logging"
)

const (
	defaultRegion = "us-east-1"
	// tokens are refreshed this long before ECR says they expire
	refreshMargin = 5 * time.Minute
	fallbackTTL   = time.Hour
)

var ecrHostPattern = regexp.MustCompile(`^(\d{12})\.dkr\.ecr(?:-fips)?\.([a-z0-9-]+)\.amazonaws\.com(?:\.cn)?$`)

type tokenAPI interface {
	GetAuthorizationToken(ctx context.Context, in *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// ECR exchanges AWS credentials for Docker registry auth on ECR image
// references. Other references pass through without credentials.
type ECR struct {
	api    tokenAPI
	tokens *cache.Store[string]
	log    *zap.Logger
	now    func() time.Time
}

// NewECR loads the default AWS credential chain. region only seeds the
// client; each pull uses the region named in the registry host.
func NewECR(ctx context.Context, region string, log *zap.Logger) (*ECR, error) {
	loadOpts := []func(*sdkconfig.LoadOptions) error{}
	if profile := resolveProfile(); profile != "" {
		loadOpts = append(loadOpts, sdkconfig.WithSharedConfigProfile(profile))
	}
	if region = resolveRegion(region); region != "" {
		loadOpts = append(loadOpts, sdkconfig.WithRegion(region))
	}
	cfg, err := sdkconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = defaultRegion
	}
	return newECR(ecr.NewFromConfig(cfg), log), nil
}

func newECR(api tokenAPI, log *zap.Logger) *ECR {
	return &ECR{api: api, tokens: cache.NewStore[string](), log: logging.OrNop(log), now: time.Now}
}

// RegistryAuth returns the encoded auth header for ref, or "" when ref is
// not hosted on ECR.
func (e *ECR) RegistryAuth(ctx context.Context, ref string) (string, error) {
	host := RegistryHost(ref)
	m := ecrHostPattern.FindStringSubmatch(host)
	if m == nil {
		return "", nil
	}
	if auth, ok := e.tokens.Get(host); ok {
		return auth, nil
	}
	account, region := m[1], m[2]
	out, err := e.api.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{RegistryIds: []string{account}},
		func(o *ecr.Options) { o.Region = region })
	if err != nil {
		return "", fmt.Errorf("ecr authorization token for %s: %w", host, err)
	}
	if len(out.AuthorizationData) == 0 {
		return "", errors.New("ecr returned no authorization data")
	}
	data := out.AuthorizationData[0]
	user, password, err := decodeToken(sdkaws.ToString(data.AuthorizationToken))
	if err != nil {
		return "", err
	}
	auth, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      user,
		Password:      password,
		ServerAddress: host,
	})
	if err != nil {
		return "", fmt.Errorf("encode registry auth: %w", err)
	}
	ttl := fallbackTTL
	if data.ExpiresAt != nil {
		ttl = data.ExpiresAt.Sub(e.now()) - refreshMargin
	}
	e.tokens.Set(host, auth, ttl)
	e.log.Debug("ecr credentials refreshed", zap.String("registry", host), zap.Duration("ttl", ttl))
	return auth, nil
}

func decodeToken(token string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("decode ecr token: %w", err)
	}
	user, password, ok := strings.Cut(string(raw), ":")
	if !ok {
		return "", "", errors.New("malformed ecr token")
	}
	return user, password, nil
}

// RegistryHost returns the registry part of an image reference, or "" for
// Docker Hub references.
func RegistryHost(ref string) string {
	first, _, ok := strings.Cut(ref, "/")
	if !ok {
		return ""
	}
	if strings.ContainsAny(first, ".:") || first == "localhost" {
		return first
	}
	return ""
}

func resolveRegion(region string) string {
	region = strings.TrimSpace(region)
	if region == "" {
		region = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
	if region == "" {
		region = strings.TrimSpace(os.Getenv("AWS_DEFAULT_REGION"))
	}
	return region
}

func resolveProfile() string {
	profile := strings.TrimSpace(os.Getenv("AWS_PROFILE"))
	if profile == "" {
		profile = strings.TrimSpace(os.Getenv("AWS_DEFAULT_PROFILE"))
	}
	return profile
}
