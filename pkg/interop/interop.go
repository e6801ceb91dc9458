package interop

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/newrelic/go-agent/v3/integrations/logcontext-v2/nrlogrus"
	"github.com/newrelic/go-agent/v3/newrelic"
	nrclient "github.com/newrelic/newrelic-client-go/newrelic"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	DefaultAppName = "New Relic Azure Tag Remap"
	EnvPrefix      = "NR_AZURE_TAG_REMAP"
)

type Interop struct {
	App      *newrelic.Application
	Logger   *log.Logger
	NrClient *nrclient.NewRelic
}

func NewInteroperability() (*Interop, error) {
	err := readConfig()
	if err != nil {
		return nil, err
	}

	licenseKey := viper.GetString("newRelic.licenseKey")
	if licenseKey == "" {
		licenseKey = os.Getenv("NEW_RELIC_LICENSE_KEY")
	}

	appName := viper.GetString("newRelic.appName")
	if appName == "" {
		appName = DefaultAppName
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(appName),
		newrelic.ConfigLicense(licenseKey),
		newrelic.ConfigEnabled(licenseKey != ""),
	)
	if err != nil {
		return nil, err
	}

	logger := log.New()

	logger.SetLevel(log.WarnLevel)
	logger.SetFormatter(nrlogrus.NewFormatter(app, &log.TextFormatter{}))

	setupLogging(logger)

	if viper.ConfigFileUsed() == "" {
		logger.Debugf("no config file found, using flags and environment only")
	}

	nrClient, err := newNrClient()
	if err != nil {
		return nil, err
	}

	return &Interop{app, logger, nrClient}, nil
}

func (i *Interop) Shutdown() {
	if i.App != nil {
		i.App.Shutdown(time.Second * 3)
	}
}

func readConfig() error {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		return viper.ReadInConfig()
	}

	viper.SetConfigName("config")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	return nil
}

// newNrClient returns nil when audit events are disabled.
func newNrClient() (*nrclient.NewRelic, error) {
	if !viper.GetBool("events.enabled") {
		return nil, nil
	}

	apiKey := viper.GetString("newRelic.apiKey")
	if apiKey == "" {
		apiKey = os.Getenv("NEW_RELIC_API_KEY")
	}

	insertKey := viper.GetString("newRelic.insertKey")
	if insertKey == "" {
		insertKey = os.Getenv("NEW_RELIC_INSERT_KEY")
	}

	if apiKey == "" && insertKey == "" {
		return nil, fmt.Errorf("events are enabled but no New Relic API or insert key is set")
	}

	opts := []nrclient.ConfigOption{
		nrclient.ConfigPersonalAPIKey(apiKey),
		nrclient.ConfigInsightsInsertKey(insertKey),
	}

	region := viper.GetString("newRelic.region")
	if region != "" {
		opts = append(opts, nrclient.ConfigRegion(region))
	}

	return nrclient.New(opts...)
}

func setupLogging(logger *log.Logger) {
	logLevel := viper.GetString("log.level")
	if logLevel != "" {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			log.Infof("failed to parse log level, default will be used: %s", err)
		} else {
			logger.SetLevel(level)
		}
	}

	if viper.IsSet("log.fileName") {
		file, err := os.OpenFile(
			viper.GetString("log.fileName"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND,
			0666,
		)
		if err != nil {
			log.Infof("failed to log to file, using default stderr: %s", err)
		} else {
			logger.Out = file
		}
	}
}
