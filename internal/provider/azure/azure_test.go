package azure

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/newrelic/nr-azure-tag-remap/internal/provider"
	"github.com/newrelic/nr-azure-tag-remap/pkg/interop"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

func newTestInterop() *interop.Interop {
	logger := log.New()
	logger.Out = io.Discard
	return &interop.Interop{Logger: logger}
}

func newTestProvider(t *testing.T, handler http.Handler) *AzureProvider {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	v := viper.New()
	v.Set("authType", "token")
	v.Set("accessToken", testToken)
	v.Set("apiUrl", srv.URL+"/")
	v.Set("retryMax", 0)

	p, err := New(newTestInterop(), v)
	require.NoError(t, err)

	return p.(*AzureProvider)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestGetSubscriptions_FollowsNextLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
		assert.Equal(t, subscriptionsApiVersion, r.URL.Query().Get("api-version"))

		if r.URL.Query().Get("$skiptoken") == "" {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"value": []map[string]interface{}{
					{
						"id":             "/subscriptions/s1",
						"subscriptionId": "s1",
						"displayName":    "Production",
						"state":          "Enabled",
						"tenantId":       "t1",
						"tags":           map[string]string{"Client": "Contoso"},
					},
				},
				"nextLink": "http://" + r.Host + "/subscriptions?api-version=" + subscriptionsApiVersion + "&$skiptoken=2",
			})
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"value": []map[string]interface{}{
				{
					"subscriptionId": "s2",
					"displayName":    "Staging",
					"state":          "Disabled",
					"tenantId":       "t1",
				},
			},
		})
	})

	ap := newTestProvider(t, mux)

	subs, err := ap.GetSubscriptions(context.Background())
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, provider.Entity{
		ID:             "/subscriptions/s1",
		Name:           "Production",
		Type:           "subscription",
		Kind:           provider.KIND_SUBSCRIPTION,
		SubscriptionID: "s1",
		TenantID:       "t1",
		State:          "Enabled",
		Tags:           provider.Tags{"Client": "Contoso"},
	}, subs[0])

	assert.Equal(t, "/subscriptions/s2", subs[1].ID)
	assert.Equal(t, "Disabled", subs[1].State)
	assert.Nil(t, subs[1].Tags)
}

func TestGetResourceGroupsAndResources(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions/s1/resourcegroups", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, resourceGroupsApiVersion, r.URL.Query().Get("api-version"))

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"value": []map[string]interface{}{
				{
					"id":   "/subscriptions/s1/resourceGroups/rg-1",
					"name": "rg-1",
					"type": "Microsoft.Resources/resourceGroups",
				},
			},
		})
	})
	mux.HandleFunc("/subscriptions/s1/resourceGroups/rg-1/resources", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"value": []map[string]interface{}{
				{
					"id":   "/subscriptions/s1/resourceGroups/rg-1/providers/Microsoft.Compute/virtualMachines/vm-1",
					"name": "vm-1",
					"type": "Microsoft.Compute/virtualMachines",
					"tags": map[string]string{"App": "Olympus"},
				},
			},
		})
	})

	ap := newTestProvider(t, mux)

	sub := &provider.Entity{
		ID:             "/subscriptions/s1",
		Name:           "Production",
		SubscriptionID: "s1",
		TenantID:       "t1",
	}

	groups, err := ap.GetResourceGroups(context.Background(), sub)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	assert.Equal(t, "rg-1", groups[0].Name)
	assert.Equal(t, provider.KIND_RESOURCE_GROUP, groups[0].Kind)
	assert.Equal(t, "s1", groups[0].SubscriptionID)
	assert.Equal(t, "t1", groups[0].TenantID)
	assert.Equal(t, provider.Tags{}, groups[0].Tags)

	resources, err := ap.GetResources(context.Background(), &groups[0])
	require.NoError(t, err)
	require.Len(t, resources, 1)

	assert.Equal(t, "vm-1", resources[0].Name)
	assert.Equal(t, "Microsoft.Compute/virtualMachines", resources[0].Type)
	assert.Equal(t, provider.KIND_RESOURCE, resources[0].Kind)
	assert.Equal(t, provider.Tags{"App": "Olympus"}, resources[0].Tags)
}

func TestGetAndSetTags(t *testing.T) {
	var (
		lock   sync.Mutex
		stored = map[string]string{"Client": "Contoso"}
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions/s1/providers/Microsoft.Resources/tags/default", func(w http.ResponseWriter, r *http.Request) {
		lock.Lock()
		defer lock.Unlock()

		assert.Equal(t, tagsApiVersion, r.URL.Query().Get("api-version"))

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"id":         "/subscriptions/s1/providers/Microsoft.Resources/tags/default",
				"name":       "default",
				"properties": map[string]interface{}{"tags": stored},
			})
		case http.MethodPut:
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

			body := tagsResource{}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

			stored = body.Properties.Tags
			writeJSON(w, http.StatusOK, body)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	ap := newTestProvider(t, mux)
	sub := &provider.Entity{ID: "/subscriptions/s1", Name: "Production"}

	tags, err := ap.GetTags(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, provider.Tags{"Client": "Contoso"}, tags)

	err = ap.SetTags(context.Background(), sub, provider.Tags{"Customer": "Contoso"})
	require.NoError(t, err)

	tags, err = ap.GetTags(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, provider.Tags{"Customer": "Contoso"}, tags)

	err = ap.SetTags(context.Background(), sub, nil)
	require.NoError(t, err)

	lock.Lock()
	assert.NotNil(t, stored)
	assert.Empty(t, stored)
	lock.Unlock()
}

func TestErrorResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions/s1/providers/Microsoft.Resources/tags/default", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{
			"error": map[string]string{
				"code":    "AuthorizationFailed",
				"message": "no write access",
			},
		})
	})
	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	ap := newTestProvider(t, mux)
	sub := &provider.Entity{ID: "/subscriptions/s1", Name: "Production", Type: "subscription"}

	err := ap.SetTags(context.Background(), sub, provider.Tags{"a": "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403 Forbidden: AuthorizationFailed: no write access")
	assert.Contains(t, err.Error(), "subscription Production")

	_, err = ap.GetSubscriptions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "azure request failed: 404 Not Found")
}

func TestServerErrorIsNotSwallowed(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": map[string]string{"code": "InternalError", "message": "boom"},
		})
	})

	ap := newTestProvider(t, mux)

	_, err := ap.GetSubscriptions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "InternalError: boom")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config map[string]interface{}
		err    string
	}{
		{
			name:   "invalid auth type",
			config: map[string]interface{}{"authType": "password"},
			err:    "invalid authentication type: password",
		},
		{
			name:   "missing token",
			config: map[string]interface{}{"authType": "token"},
			err:    "missing azure access token",
		},
		{
			name:   "missing tenant",
			config: map[string]interface{}{"clientId": "c", "clientSecret": "s"},
			err:    "missing azure tenant ID",
		},
		{
			name:   "missing client ID",
			config: map[string]interface{}{"tenantId": "t", "clientSecret": "s"},
			err:    "missing azure client ID",
		},
		{
			name:   "missing client secret",
			config: map[string]interface{}{"tenantId": "t", "clientId": "c"},
			err:    "missing azure client secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			for k, val := range tt.config {
				v.Set(k, val)
			}

			_, err := New(newTestInterop(), v)
			assert.EqualError(t, err, tt.err)
		})
	}
}

func TestNew_ClientCredentialDefaults(t *testing.T) {
	v := viper.New()
	v.Set("tenantId", "t1")
	v.Set("clientId", "c1")
	v.Set("clientSecret", "secret")

	p, err := New(newTestInterop(), v)
	require.NoError(t, err)

	ap := p.(*AzureProvider)

	assert.Equal(t, AUTH_TYPE_CLIENT_CREDENTIALS, ap.AuthType)
	assert.Equal(t, DEFAULT_API_URL, ap.ApiURL)
	assert.Equal(t, "https://login.microsoftonline.com/t1/oauth2/v2.0/token", ap.TokenURL)
	assert.Equal(t, []string{"https://management.azure.com/.default"}, ap.Scopes)
	assert.Equal(t, DEFAULT_RETRY_MAX, ap.RetryMax)
	assert.Equal(t, DEFAULT_TIMEOUT, ap.Timeout)
}
