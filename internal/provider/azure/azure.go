package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/newrelic/nr-azure-tag-remap/internal/provider"
	"github.com/newrelic/nr-azure-tag-remap/pkg/interop"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type AuthType string

const (
	AUTH_TYPE_CLIENT_CREDENTIALS AuthType = "client_credentials"
	AUTH_TYPE_TOKEN              AuthType = "token"

	DEFAULT_API_URL       = "https://management.azure.com"
	DEFAULT_AUTHORITY_URL = "https://login.microsoftonline.com"
	DEFAULT_RETRY_MAX     = 4
	DEFAULT_TIMEOUT       = 60 * time.Second

	subscriptionsApiVersion  = "2022-12-01"
	resourceGroupsApiVersion = "2021-04-01"
	resourcesApiVersion      = "2021-04-01"
	tagsApiVersion           = "2021-04-01"
)

type AzureProvider struct {
	Interop      *interop.Interop
	ApiURL       string
	AuthType     AuthType
	TenantID     string
	ClientID     string
	ClientSecret string
	TokenURL     string
	AccessToken  string
	Scopes       []string
	RetryMax     int
	Timeout      time.Duration

	client *http.Client
}

func init() {
	provider.RegisterProvider("azure", New)
}

func New(i *interop.Interop, v *viper.Viper) (provider.Provider, error) {
	v.SetEnvPrefix("NR_AZURE")
	v.AutomaticEnv()

	apiUrl := strings.TrimSuffix(v.GetString("apiUrl"), "/")
	if apiUrl == "" {
		apiUrl = DEFAULT_API_URL
	}

	retryMax := DEFAULT_RETRY_MAX
	if v.IsSet("retryMax") {
		retryMax = cast.ToInt(v.Get("retryMax"))
	}

	timeout := v.GetDuration("timeout")
	if timeout <= 0 {
		timeout = DEFAULT_TIMEOUT
	}

	var authType AuthType

	s := strings.ToLower(v.GetString("authType"))
	if s == "" || s == string(AUTH_TYPE_CLIENT_CREDENTIALS) {
		authType = AUTH_TYPE_CLIENT_CREDENTIALS
	} else if s == string(AUTH_TYPE_TOKEN) {
		authType = AUTH_TYPE_TOKEN
	} else {
		return nil, fmt.Errorf("invalid authentication type: %s", s)
	}

	ap := &AzureProvider{
		Interop:  i,
		ApiURL:   apiUrl,
		AuthType: authType,
		RetryMax: retryMax,
		Timeout:  timeout,
	}

	if authType == AUTH_TYPE_TOKEN {
		accessToken := v.GetString("accessToken")
		if accessToken == "" {
			return nil, fmt.Errorf("missing azure access token")
		}

		ap.AccessToken = accessToken
	} else {
		tenantId := v.GetString("tenantId")
		if tenantId == "" {
			return nil, fmt.Errorf("missing azure tenant ID")
		}

		clientId := v.GetString("clientId")
		if clientId == "" {
			return nil, fmt.Errorf("missing azure client ID")
		}

		clientSecret := v.GetString("clientSecret")
		if clientSecret == "" {
			return nil, fmt.Errorf("missing azure client secret")
		}

		tokenUrl := v.GetString("tokenUrl")
		if tokenUrl == "" {
			tokenUrl = fmt.Sprintf(
				"%s/%s/oauth2/v2.0/token",
				DEFAULT_AUTHORITY_URL,
				url.PathEscape(tenantId),
			)
		}

		scopes := cast.ToStringSlice(v.Get("scopes"))
		if len(scopes) == 0 {
			scopes = []string{apiUrl + "/.default"}
		}

		ap.TenantID = tenantId
		ap.ClientID = clientId
		ap.ClientSecret = clientSecret
		ap.TokenURL = tokenUrl
		ap.Scopes = scopes
	}

	ap.client = ap.createHttpClient()

	return ap, nil
}

func (ap *AzureProvider) GetSubscriptions(
	ctx context.Context,
) ([]provider.Entity, error) {
	subscriptions, err := listAll[subscription](
		ctx,
		ap,
		ap.buildURL("/subscriptions", subscriptionsApiVersion),
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions failed: %w", err)
	}

	entities := make([]provider.Entity, 0, len(subscriptions))

	for _, sub := range subscriptions {
		id := sub.ID
		if id == "" {
			id = "/subscriptions/" + sub.SubscriptionID
		}

		entities = append(entities, provider.Entity{
			ID:             id,
			Name:           sub.DisplayName,
			Type:           string(provider.KIND_SUBSCRIPTION),
			Kind:           provider.KIND_SUBSCRIPTION,
			SubscriptionID: sub.SubscriptionID,
			TenantID:       sub.TenantID,
			State:          sub.State,
			Tags:           sub.Tags,
		})
	}

	return entities, nil
}

func (ap *AzureProvider) GetResourceGroups(
	ctx context.Context,
	sub *provider.Entity,
) ([]provider.Entity, error) {
	groups, err := listAll[resource](
		ctx,
		ap,
		ap.buildURL(sub.ID+"/resourcegroups", resourceGroupsApiVersion),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"list resource groups in subscription %s failed: %w",
			sub.Name,
			err,
		)
	}

	entities := make([]provider.Entity, 0, len(groups))

	for _, group := range groups {
		entities = append(entities, provider.Entity{
			ID:             group.ID,
			Name:           group.Name,
			Type:           string(provider.KIND_RESOURCE_GROUP),
			Kind:           provider.KIND_RESOURCE_GROUP,
			SubscriptionID: sub.SubscriptionID,
			TenantID:       sub.TenantID,
			Tags:           emptyIfNil(group.Tags),
		})
	}

	return entities, nil
}

func (ap *AzureProvider) GetResources(
	ctx context.Context,
	group *provider.Entity,
) ([]provider.Entity, error) {
	resources, err := listAll[resource](
		ctx,
		ap,
		ap.buildURL(group.ID+"/resources", resourcesApiVersion),
	)
	if err != nil {
		return nil, fmt.Errorf(
			"list resources in resource group %s failed: %w",
			group.Name,
			err,
		)
	}

	entities := make([]provider.Entity, 0, len(resources))

	for _, res := range resources {
		entities = append(entities, provider.Entity{
			ID:             res.ID,
			Name:           res.Name,
			Type:           res.Type,
			Kind:           provider.KIND_RESOURCE,
			SubscriptionID: group.SubscriptionID,
			TenantID:       group.TenantID,
			Tags:           emptyIfNil(res.Tags),
		})
	}

	return entities, nil
}

func (ap *AzureProvider) GetTags(
	ctx context.Context,
	entity *provider.Entity,
) (provider.Tags, error) {
	var result tagsResource

	err := ap.doJSON(
		ctx,
		http.MethodGet,
		ap.buildURL(entity.ID+"/providers/Microsoft.Resources/tags/default", tagsApiVersion),
		nil,
		&result,
	)
	if err != nil {
		return nil, fmt.Errorf("get tags on %s failed: %w", entity, err)
	}

	return emptyIfNil(result.Properties.Tags), nil
}

// SetTags replaces the full tag set on the entity scope.
func (ap *AzureProvider) SetTags(
	ctx context.Context,
	entity *provider.Entity,
	tags provider.Tags,
) error {
	if tags == nil {
		tags = provider.Tags{}
	}

	body := &tagsResource{}
	body.Properties.Tags = tags

	err := ap.doJSON(
		ctx,
		http.MethodPut,
		ap.buildURL(entity.ID+"/providers/Microsoft.Resources/tags/default", tagsApiVersion),
		body,
		nil,
	)
	if err != nil {
		return fmt.Errorf("set tags on %s failed: %w", entity, err)
	}

	return nil
}

func (ap *AzureProvider) buildURL(path string, apiVersion string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return fmt.Sprintf("%s%s?api-version=%s", ap.ApiURL, path, apiVersion)
}

func emptyIfNil(tags map[string]string) provider.Tags {
	if tags == nil {
		return provider.Tags{}
	}
	return tags
}
