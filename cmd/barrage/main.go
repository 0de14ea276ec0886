package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/barrageproject/barrage/internal/barrage"
	"github.com/barrageproject/barrage/internal/barrage/configuration"
	"github.com/barrageproject/barrage/internal/common"
	"github.com/barrageproject/barrage/internal/common/app"
)

const CustomConfigLocation = "config"

func init() {
	pflag.StringSlice(
		CustomConfigLocation,
		[]string{},
		"Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)",
	)
	pflag.Parse()
}

func main() {
	common.ConfigureLogging()
	common.BindCommandlineArguments()

	var config configuration.BarrageConfiguration
	userSpecifiedConfigs := viper.GetStringSlice(CustomConfigLocation)
	common.LoadConfig(&config, "./config/barrage", userSpecifiedConfigs)

	ctx := app.CreateContextWithShutdown()

	application, err := barrage.New(ctx, &config)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		log.Fatalf("error detected on run: %v", err)
	}
}
