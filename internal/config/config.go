package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string

	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	BeyondAPIKey string
	BeyondAPIURL string
	AvatarID     string

	RoomName        string
	AvatarIdentity  string
	ParticipantName string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	StorageBackend   string
	S3Bucket         string
	S3Region         string
	S3Endpoint       string
	S3PublicBaseURL  string
	CallStore        string
	SQLitePath       string
	SyncLookback     int
	SyncSchedule     string
	APIAuthToken     string
	ServerBaseURL    string
	RoomSignalingURL string
	ICEServersJSON   string

	AssemblyAIKey     string
	SpeechLang        string
	MemoriesKeywords  []string
	ExercisesKeywords []string

	FFmpegCommand    string
	AudioInputFormat string
	AudioInputDevice string
	VideoInputFormat string
	VideoInputDevice string

	BatchInterval    time.Duration
	SyncInterval     time.Duration
	SettleDelay      time.Duration
	OperationTimeout time.Duration
}

const (
	defaultAvatarID = "694c83e2-8895-4a98-bd16-56332ca3f449"
	defaultICE      = `[{"urls":["stun:stun.l.google.com:19302"]}]`
)

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file loaded")
	}

	cfg := Config{
		HTTPAddress: getenv("HTTP_ADDRESS", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		LiveKitURL:       getenv("LIVEKIT_URL", "wss://mindgate-b4zorucn.livekit.cloud"),
		LiveKitAPIKey:    os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret: os.Getenv("LIVEKIT_API_SECRET"),

		BeyondAPIKey: os.Getenv("BEY_API_KEY"),
		BeyondAPIURL: getenv("BEY_API_URL", "https://api.bey.dev"),
		AvatarID:     getenv("AVATAR_ID", defaultAvatarID),

		RoomName:        getenv("ROOM_NAME", "dementia-care-room"),
		AvatarIdentity:  getenv("AVATAR_IDENTITY", "ai-therapist"),
		ParticipantName: os.Getenv("PARTICIPANT_NAME"),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getenv("SUPABASE_BUCKET", "audio_bucket"),

		StorageBackend:   strings.ToLower(getenv("STORAGE_BACKEND", "supabase")),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Region:         getenv("S3_REGION", "us-east-1"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3PublicBaseURL:  os.Getenv("S3_PUBLIC_BASE_URL"),
		CallStore:        strings.ToLower(getenv("CALL_STORE", "supabase")),
		SQLitePath:       getenv("SQLITE_PATH", "companion.db"),
		SyncLookback:     getenvInt("SYNC_LOOKBACK", 100),
		SyncSchedule:     os.Getenv("SYNC_SCHEDULE"),
		APIAuthToken:     os.Getenv("API_AUTH_TOKEN"),
		ServerBaseURL:    getenv("SERVER_BASE_URL", "http://localhost:8080"),
		RoomSignalingURL: os.Getenv("ROOM_SIGNALING_URL"),
		ICEServersJSON:   getenv("ICE_SERVERS_JSON", defaultICE),

		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
		SpeechLang:        getenv("SPEECH_LANG", "en-US"),
		MemoriesKeywords:  getenvList("CUE_KEYWORDS_MEMORIES", []string{"i don't know"}),
		ExercisesKeywords: getenvList("CUE_KEYWORDS_EXERCISES", []string{"are you ready for the exercises"}),

		FFmpegCommand:    getenv("FFMPEG_COMMAND", "ffmpeg"),
		AudioInputFormat: getenv("AUDIO_INPUT_FORMAT", "pulse"),
		AudioInputDevice: getenv("AUDIO_INPUT_DEVICE", "default"),
		VideoInputFormat: getenv("VIDEO_INPUT_FORMAT", "v4l2"),
		VideoInputDevice: getenv("VIDEO_INPUT_DEVICE", "/dev/video0"),

		BatchInterval:    getenvDuration("BATCH_INTERVAL", 30*time.Second),
		SyncInterval:     getenvDuration("SYNC_INTERVAL", 5*time.Minute),
		SettleDelay:      getenvDuration("SETTLE_DELAY", 3*time.Second),
		OperationTimeout: getenvDuration("OPERATION_TIMEOUT", 2*time.Minute),
	}

	if cfg.LiveKitAPIKey == "" || cfg.LiveKitAPISecret == "" {
		log.Warn().Msg("LIVEKIT_API_KEY/LIVEKIT_API_SECRET not set - room tokens will not be issued")
	}
	if cfg.BeyondAPIKey == "" {
		log.Warn().Msg("BEY_API_KEY not set - avatar sessions and call sync will not work")
	}
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		log.Warn().Msg("SUPABASE_URL/SUPABASE_SERVICE_ROLE_KEY not set - supabase storage disabled")
	}
	if cfg.AssemblyAIKey == "" {
		log.Warn().Msg("ASSEMBLYAI_API_KEY not set - speech cues will not work")
	}

	log.Info().Str("http_address", cfg.HTTPAddress).Str("room", cfg.RoomName).Msg("config loaded")
	return cfg
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return def
	}
	return n
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
		return def
	}
	return d
}

// getenvList splits a "|" separated list; keywords may contain commas.
func getenvList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, "|") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
