package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type subscription struct {
	ID             string            `json:"id"`
	SubscriptionID string            `json:"subscriptionId"`
	DisplayName    string            `json:"displayName"`
	State          string            `json:"state"`
	TenantID       string            `json:"tenantId"`
	Tags           map[string]string `json:"tags"`
}

type resource struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Location string            `json:"location"`
	Tags     map[string]string `json:"tags"`
}

type tagsResource struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	Properties struct {
		Tags map[string]string `json:"tags"`
	} `json:"properties"`
}

type listPage[T any] struct {
	Value    []T    `json:"value"`
	NextLink string `json:"nextLink"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// listAll follows nextLink until the collection is exhausted.
func listAll[T any](
	ctx context.Context,
	ap *AzureProvider,
	url string,
) ([]T, error) {
	var results []T

	for url != "" {
		page := &listPage[T]{}

		err := ap.doJSON(ctx, http.MethodGet, url, nil, page)
		if err != nil {
			return nil, err
		}

		ap.Interop.Logger.Tracef(
			"read %d items from azure, next link: %q",
			len(page.Value),
			page.NextLink,
		)

		results = append(results, page.Value...)
		url = page.NextLink
	}

	return results, nil
}

func (ap *AzureProvider) doJSON(
	ctx context.Context,
	method string,
	url string,
	in interface{},
	out interface{},
) error {
	ap.Interop.Logger.Debugf(
		"making azure %s request using URL %s...",
		method,
		url,
	)

	var reqBody io.Reader

	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return err
	}

	req.Header.Add("Accept", "application/json")
	if in != nil {
		req.Header.Add("Content-Type", "application/json")
	}

	resp, err := ap.client.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newResponseError(resp, body)
	}

	if out == nil || len(body) == 0 {
		return nil
	}

	ap.Interop.Logger.Tracef(
		"read %d bytes, unmarshaling JSON...",
		len(body),
	)

	return json.Unmarshal(body, out)
}

func newResponseError(resp *http.Response, body []byte) error {
	errResp := &errorResponse{}

	if json.Unmarshal(body, errResp) == nil && errResp.Error.Code != "" {
		return fmt.Errorf(
			"azure request failed: %s: %s: %s",
			resp.Status,
			errResp.Error.Code,
			errResp.Error.Message,
		)
	}

	return fmt.Errorf("azure request failed: %s", resp.Status)
}

func (ap *AzureProvider) createHttpClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = ap.RetryMax
	retryClient.Logger = &retryLogger{ap.Interop.Logger}
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.HTTPClient = &http.Client{
		Timeout: ap.Timeout,
		Transport: &oauth2.Transport{
			Source: ap.tokenSource(),
			Base:   retryClient.HTTPClient.Transport,
		},
	}

	return retryClient.StandardClient()
}

func (ap *AzureProvider) tokenSource() oauth2.TokenSource {
	if ap.AuthType == AUTH_TYPE_TOKEN {
		return oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: ap.AccessToken,
			TokenType:   "Bearer",
		})
	}

	oauthConfig := &clientcredentials.Config{
		ClientID:     ap.ClientID,
		ClientSecret: ap.ClientSecret,
		TokenURL:     ap.TokenURL,
		Scopes:       ap.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	return oauthConfig.TokenSource(context.Background())
}

// retryLogger adapts logrus to retryablehttp.LeveledLogger.
type retryLogger struct {
	logger *log.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(toFields(keysAndValues)).Error(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(toFields(keysAndValues)).Debug(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(toFields(keysAndValues)).Trace(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(toFields(keysAndValues)).Warn(msg)
}

func toFields(keysAndValues []interface{}) log.Fields {
	fields := log.Fields{}

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[cast.ToString(keysAndValues[i])] = keysAndValues[i+1]
	}

	return fields
}
