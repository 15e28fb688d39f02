package main

import (
	"fmt"
	"math/big"
	"os"

	flag "github.com/spf13/pflag"
	"github.com/iden3/go-iden3-crypto/constants"

	"github.com/dvlprsh/maci/crypto/babyjubjub"
	"github.com/dvlprsh/maci/log"
	"github.com/dvlprsh/maci/state"
	"github.com/dvlprsh/maci/util"
)

var (
	operation      = flag.StringP("operation", "o", "demo", "operation to run: keygen or demo")
	seed           = flag.BytesHex("seed", nil, "hex seed for deterministic key derivation (keygen only)")
	logLevel       = flag.String("log.level", "info", "log level (debug, info, warn, error)")
	stateTreeDepth = flag.Int("stateTreeDepth", 4, "depth of the state accumulator")
	msgTreeDepth   = flag.Int("msgTreeDepth", 4, "depth of the message accumulator")
	treeArity      = flag.Int("treeArity", 5, "arity of both accumulators")
	votersCount    = flag.Int("votersCount", 4, "number of voters signing up and voting")
	maxVoteOption  = flag.Int64("maxVoteOptionIndex", 24, "highest valid vote option index")
	initialBalance = flag.Int64("initialBalance", 100, "initial voice credit balance per voter")
)

func main() {
	flag.Parse()
	log.Init(*logLevel, "stdout")

	switch *operation {
	case "keygen":
		if err := runKeygen(); err != nil {
			log.Fatalf("keygen failed: %v", err)
		}
	case "demo":
		if err := runDemo(); err != nil {
			log.Fatalf("demo failed: %v", err)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown operation %q\n", *operation)
		flag.Usage()
		os.Exit(1)
	}
}

// runKeygen prints a fresh (or seed-derived) keypair in serialized form.
func runKeygen() error {
	var keypair *babyjubjub.Keypair
	if len(*seed) > 0 {
		var err error
		if keypair, err = babyjubjub.KeypairFromSeed(*seed); err != nil {
			return err
		}
	} else {
		keypair = babyjubjub.GenerateKeypair()
	}
	fmt.Println(keypair.PrivKey.Serialize())
	fmt.Println(keypair.PubKey.Serialize())
	return nil
}

// runDemo drives one full round against an in-memory orchestrator: sign-ups,
// one encrypted vote per voter and in-order processing with circuit inputs
// generated for every message.
func runDemo() error {
	coordinator := babyjubjub.GenerateKeypair()
	s, err := state.New(coordinator, *stateTreeDepth, *msgTreeDepth, *treeArity,
		big.NewInt(*maxVoteOption))
	if err != nil {
		return err
	}
	log.Infow("orchestrator created",
		"stateTreeDepth", *stateTreeDepth, "msgTreeDepth", *msgTreeDepth,
		"arity", *treeArity, "coordinator", coordinator.PubKey.Serialize())

	voters := make([]*babyjubjub.Keypair, *votersCount)
	for i := range voters {
		voters[i] = babyjubjub.GenerateKeypair()
		index, err := s.SignUp(voters[i].PubKey, big.NewInt(*initialBalance))
		if err != nil {
			return fmt.Errorf("sign up voter %d: %w", i, err)
		}
		log.Infow("voter signed up", "stateIndex", index)
	}

	for i, voter := range voters {
		cmd, err := state.NewCommand(big.NewInt(int64(i+1)), voter.PubKey,
			big.NewInt(int64(i)%(*maxVoteOption+1)), big.NewInt(3), big.NewInt(1),
			big.NewInt(0), util.RandomBigInt(constants.Q))
		if err != nil {
			return fmt.Errorf("build command for voter %d: %w", i, err)
		}
		sig, err := cmd.Sign(voter.PrivKey)
		if err != nil {
			return err
		}
		ephemeral := babyjubjub.GenerateKeypair()
		sharedKey := babyjubjub.SharedKey(ephemeral.PrivKey, s.CoordinatorPubKey())
		msg, err := cmd.Encrypt(sig, sharedKey)
		if err != nil {
			return err
		}
		msgIndex, err := s.PublishMessage(msg, ephemeral.PubKey)
		if err != nil {
			return fmt.Errorf("publish message for voter %d: %w", i, err)
		}
		log.Infow("message published", "msgIndex", msgIndex)
	}

	for i := 0; i < *votersCount; i++ {
		inputs, err := s.GenUpdateStateTreeCircuitInputs(i)
		if err != nil {
			return fmt.Errorf("circuit inputs for message %d: %w", i, err)
		}
		if err := s.ProcessNextMessage(); err != nil {
			return fmt.Errorf("process message %d: %w", i, err)
		}
		if s.StateRoot().Cmp(inputs.NewStateTreeRoot) != 0 {
			return fmt.Errorf("message %d: state root diverged from circuit inputs", i)
		}
		log.Infow("message processed", "msgIndex", i,
			"stateRoot", s.StateRoot().String())
	}

	log.Infow("demo finished",
		"stateRoot", s.StateRoot().String(),
		"messageRoot", s.MessageRoot().String())
	return nil
}
