package internal

// LogHandler is the logging contract shared by every component; id is usually the charge point id
type LogHandler interface {
	FeatureEvent(feature, id, text string)
	Debug(text string)
	Warn(text string)
	Error(text string, err error)
	RawDataEvent(direction, data string)
}
