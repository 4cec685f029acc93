package utils

import (
	"time"

	"github.com/spf13/viper"
)

// Set the viper defaults for a story client.
// For use in cmd/config, and anywhere a client is configured from viper.
func SetViperDefaults(v *viper.Viper) {
	v.SetDefault("loglevel", "info")
	v.SetDefault("logfile", "")
	v.SetDefault("componentloglevels", map[string]string{})

	v.SetDefault("serverurl", "ws://localhost:8080/stream")
	v.SetDefault("authtoken", "")
	v.SetDefault("transport", "websocket")
	v.SetDefault("iceservers", []string{})

	v.SetDefault("volume", 1.0)
	v.SetDefault("flushremainder", false)
	v.SetDefault("emitthreshold", 32*1024)
	v.SetDefault("chunksize", 2048)
	v.SetDefault("enginesamplerate", 44100)
	v.SetDefault("renderbufferframes", 1024)
	v.SetDefault("releasedebounce", time.Second)

	v.SetDefault("capturefile", "")
	v.SetDefault("outputfile", "")
	v.SetDefault("capturesamplerate", 16000)
	v.SetDefault("captureframeduration", 20*time.Millisecond)

	v.SetDefault("metricsaddress", "")
}
