package conf

import (
	"crypto/ecdsa"
	"log"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
)

// default allocation
var (
	ServerAddr           = ":3000"
	MysqlDsn             = "root:123456@tcp(127.0.0.1:3306)/reveal"
	ResetDB              = false
	ChainUrl             = "http://127.0.0.1:8545"
	ChainId        int64 = 1
	ContractAddr         = "0x9fE46736679d2D9a65F0992F2272dE9f3c7fa6e0"
	HexKey               = "7b2546a5d4e658d079c6b2755c6d7495edd01a686fddae010830e9c93b23e398"
	WebhookKey           = "d0be2dc421be4fcd0172e5afceea3970e2f3d940"
	RenderUrl            = "http://localhost:9090/v1/images"
	RenderKey            = ""
	RenderModel          = "sdxl-1.0"
	FallbackPrompt       = "an abstract gradient artwork, soft colors"
	IpfsServer           = "http://localhost:5001"
	Interval       int64 = 10  //worker polling interval (seconds)
	ClaimLimit           = 20  //max rows claimed per generation/upload cycle
	BatchSize            = 50  //max tokens per reveal transaction
	BatchWait      int64 = 5   //reveal top-up window (seconds)
	ConfirmTimeout int64 = 180 //reveal confirmation wait (seconds)
	MaxAttempts          = 3   //generation/upload attempt budget
	GenParallel          = 10  //parallel renders within one cycle
	GasFactor            = 1.2 //safety multiplier for gas limit and price
)

// globally available object instantiated from config
var (
	PrivateKey   *ecdsa.PrivateKey //operator identity signing reveal transactions
	OperatorAddr common.Address    //address derived from PrivateKey
	Contract     common.Address    //blind mint contract address
)

func init() {
	// set log printout to stdout instead of stderr
	log.SetOutput(os.Stdout)

	// read configuration to override default value
	setConf()

	// check configuration
	if Interval < 1 {
		panic("conf.Interval < 1")
	}
	if BatchSize < 1 || BatchSize > 500 {
		panic("conf.BatchSize out of range")
	}
	if MaxAttempts < 1 {
		panic("conf.MaxAttempts < 1")
	}
	if GasFactor < 1 {
		panic("conf.GasFactor < 1")
	}
	if l := utf8.RuneCountInString(FallbackPrompt); l == 0 || l > 1000 {
		panic("conf.FallbackPrompt must be 1-1000 characters")
	}

	var err error
	PrivateKey, err = crypto.HexToECDSA(HexKey)
	if err != nil {
		panic(err)
	}
	OperatorAddr = crypto.PubkeyToAddress(PrivateKey.PublicKey)
	Contract = common.HexToAddress(ContractAddr)
}

func setConf() {
	err := godotenv.Load("reveal.env")
	if err != nil {
		log.Println("Failed to load environment variables from .env file,", err)
	}

	if serverAddr := os.Getenv("SERVER_ADDR"); serverAddr != "" {
		ServerAddr = serverAddr
	}
	if mysqlDsn := os.Getenv("MYSQL_DSN"); mysqlDsn != "" {
		MysqlDsn = mysqlDsn
	}
	if resetDB := os.Getenv("RESET_DB"); resetDB != "" {
		ResetDB = resetDB == "true"
	}
	if chainUrl := os.Getenv("CHAIN_URL"); chainUrl != "" {
		ChainUrl = chainUrl
	}
	if chainId := os.Getenv("CHAIN_ID"); chainId != "" {
		ChainId, err = strconv.ParseInt(chainId, 0, 64)
		if err != nil {
			panic(err)
		}
	}
	if contractAddr := os.Getenv("CONTRACT_ADDR"); contractAddr != "" {
		ContractAddr = contractAddr
	}
	if hexKey := os.Getenv("HEX_KEY"); hexKey != "" {
		HexKey = hexKey
	}
	if webhookKey := os.Getenv("WEBHOOK_KEY"); webhookKey != "" {
		WebhookKey = webhookKey
	}
	if renderUrl := os.Getenv("RENDER_URL"); renderUrl != "" {
		RenderUrl = renderUrl
	}
	if renderKey := os.Getenv("RENDER_KEY"); renderKey != "" {
		RenderKey = renderKey
	}
	if renderModel := os.Getenv("RENDER_MODEL"); renderModel != "" {
		RenderModel = renderModel
	}
	if fallbackPrompt := os.Getenv("FALLBACK_PROMPT"); fallbackPrompt != "" {
		FallbackPrompt = fallbackPrompt
	}
	if ipfsServer := os.Getenv("IPFS_SERVER"); ipfsServer != "" {
		IpfsServer = ipfsServer
	}
	if interval := os.Getenv("INTERVAL"); interval != "" {
		Interval, err = strconv.ParseInt(interval, 0, 64)
		if err != nil {
			panic(err)
		}
	}
	if claimLimit := os.Getenv("CLAIM_LIMIT"); claimLimit != "" {
		ClaimLimit, err = strconv.Atoi(claimLimit)
		if err != nil {
			panic(err)
		}
	}
	if batchSize := os.Getenv("BATCH_SIZE"); batchSize != "" {
		BatchSize, err = strconv.Atoi(batchSize)
		if err != nil {
			panic(err)
		}
	}
	if batchWait := os.Getenv("BATCH_WAIT"); batchWait != "" {
		BatchWait, err = strconv.ParseInt(batchWait, 0, 64)
		if err != nil {
			panic(err)
		}
	}
	if confirmTimeout := os.Getenv("CONFIRM_TIMEOUT"); confirmTimeout != "" {
		ConfirmTimeout, err = strconv.ParseInt(confirmTimeout, 0, 64)
		if err != nil {
			panic(err)
		}
	}
	if maxAttempts := os.Getenv("MAX_ATTEMPTS"); maxAttempts != "" {
		MaxAttempts, err = strconv.Atoi(maxAttempts)
		if err != nil {
			panic(err)
		}
	}
	if genParallel := os.Getenv("GEN_PARALLEL"); genParallel != "" {
		GenParallel, err = strconv.Atoi(genParallel)
		if err != nil {
			panic(err)
		}
	}
	if gasFactor := os.Getenv("GAS_FACTOR"); gasFactor != "" {
		GasFactor, err = strconv.ParseFloat(gasFactor, 64)
		if err != nil {
			panic(err)
		}
	}
}

// PollInterval worker polling interval as a duration
func PollInterval() time.Duration {
	return time.Duration(Interval) * time.Second
}
