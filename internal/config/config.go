package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Env       string          `mapstructure:"env"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        DBConfig        `mapstructure:"db"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Stripe    StripeConfig    `mapstructure:"stripe"`
	Braintree BraintreeConfig `mapstructure:"braintree"`
	PayPal    PayPalConfig    `mapstructure:"paypal"`
	Payouts   PayoutsConfig   `mapstructure:"payouts"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SMTPConfig struct {
	Host          string `mapstructure:"host"`
	Port          string `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Pass          string `mapstructure:"pass"`
	TLSMode       string `mapstructure:"tls_mode"` // none|starttls|tls
	SkipVerifyTLS bool   `mapstructure:"skip_verify_tls"`
}

type AlertsConfig struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"` // local|s3
	LocalDir      string `mapstructure:"local_dir"`
	S3Region      string `mapstructure:"s3_region"`
	S3Bucket      string `mapstructure:"s3_bucket"`
	S3Prefix      string `mapstructure:"s3_prefix"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type BraintreeConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	MerchantID    string `mapstructure:"merchant_id"`
	PublicKey     string `mapstructure:"public_key"`
	PrivateKey    string `mapstructure:"private_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type PayPalConfig struct {
	NVPEndpoint  string `mapstructure:"nvp_endpoint"`
	IPNVerifyURL string `mapstructure:"ipn_verify_url"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Signature    string `mapstructure:"signature"`
	Version      string `mapstructure:"version"`
}

type PayoutsConfig struct {
	BatchCapacity       int           `mapstructure:"batch_capacity"`
	BatchDelay          time.Duration `mapstructure:"batch_delay"`
	SplitCapCents       int64         `mapstructure:"split_cap_cents"`
	PendingRecheckDelay time.Duration `mapstructure:"pending_recheck_delay"`
	EmailSubject        string        `mapstructure:"email_subject"`
}

type JobsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", "1025")
	v.SetDefault("smtp.tls_mode", "none")
	v.SetDefault("alerts.from", "payments@localhost")
	v.SetDefault("alerts.to", "payments-ops@localhost")
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local_dir", "./storage/payouts")
	v.SetDefault("storage.s3_prefix", "payouts")
	v.SetDefault("braintree.base_url", "https://payments.sandbox.braintree-api.com")
	v.SetDefault("paypal.nvp_endpoint", "https://api-3t.sandbox.paypal.com/nvp")
	v.SetDefault("paypal.ipn_verify_url", "https://ipnpb.sandbox.paypal.com/cgi-bin/webscr")
	v.SetDefault("paypal.version", "90")
	v.SetDefault("payouts.batch_capacity", 240)
	v.SetDefault("payouts.batch_delay", 5*time.Minute)
	v.SetDefault("payouts.split_cap_cents", int64(20_000_00))
	v.SetDefault("payouts.pending_recheck_delay", 3*time.Hour)
	v.SetDefault("payouts.email_subject", "You have a payment")
	v.SetDefault("jobs.poll_interval", 5*time.Second)
	v.SetDefault("jobs.batch_size", 20)
}

// Load reads .env (optional), then an optional yaml file named by
// PAYMENTS_CONFIG, then environment variables. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("PAYMENTS_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	// STRIPE_SECRET_KEY -> stripe.secret_key
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// AutomaticEnv only resolves keys viper already knows about, so keys without a
// default have to be bound explicitly.
func bindEnv(v *viper.Viper) {
	for _, k := range []string{
		"db.dsn",
		"smtp.user", "smtp.pass", "smtp.skip_verify_tls",
		"storage.s3_region", "storage.s3_bucket", "storage.public_base_url",
		"stripe.secret_key", "stripe.webhook_secret",
		"braintree.merchant_id", "braintree.public_key", "braintree.private_key", "braintree.webhook_secret",
		"paypal.user", "paypal.password", "paypal.signature",
	} {
		_ = v.BindEnv(k)
	}
}
