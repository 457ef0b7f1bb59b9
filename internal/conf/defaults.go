// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "emotion-go")

	viper.SetDefault("emotion.modelpath", "emotion_model.tflite")
	viper.SetDefault("emotion.cascadepath", "haarcascade_frontalface_default.xml")
	viper.SetDefault("emotion.threads", 0)

	viper.SetDefault("camera.device", 0)
	viper.SetDefault("camera.width", 640)
	viper.SetDefault("camera.height", 480)
	viper.SetDefault("camera.fps", 30)
	viper.SetDefault("camera.retrydelay", time.Second)

	viper.SetDefault("stream.classifyevery", 2)
	viper.SetDefault("stream.jpegquality", 80)

	viper.SetDefault("webserver.host", "0.0.0.0")
	viper.SetDefault("webserver.port", "5000")
	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.shutdowntimeout", 10*time.Second)
	viper.SetDefault("webserver.ratelimit.enabled", false)
	viper.SetDefault("webserver.ratelimit.rate", 5.0)
	viper.SetDefault("webserver.ratelimit.burst", 10)

	viper.SetDefault("upload.path", "uploads")
	viper.SetDefault("upload.maxsize", "16M")
	viper.SetDefault("upload.allowedextensions", []string{"png", "jpg", "jpeg", "gif"})

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "emotions.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.database", "emotions")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("security.admin.username", "")
	viper.SetDefault("security.admin.passwordhash", "")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "emotion-go/detections")
	viper.SetDefault("mqtt.clientid", "emotion-go")
	viper.SetDefault("mqtt.retain", false)

	viper.SetDefault("telemetry.enabled", false)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.environment", "production")

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.console.json", false)
	viper.SetDefault("logging.fileoutput.enabled", false)
	viper.SetDefault("logging.fileoutput.path", "logs/emotion-go.log")
	viper.SetDefault("logging.fileoutput.level", "info")
}
