package checker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"dmvwatch/pkg/logx"
)

const (
	agentVerdictCap = 200
	agentExcerptCap = 6000

	agentSystemPrompt = "You review appointment booking pages for the NC DMV " +
		"'Skip the Line' system. Given the text of an office page, decide whether " +
		"any appointment slots are available in the next 60 days. Reply with " +
		"strictly one line starting with AVAILABLE or NONE, followed by a brief " +
		"reason; when slots exist, include the earliest date and 1-3 example times."
)

// completionFn is the single model call the agent needs; swappable in tests.
type completionFn func(ctx context.Context, system, user string) (string, error)

// Agent is the model-backed probe: it fetches the page text and asks an
// OpenAI model for a one-line AVAILABLE/NONE verdict. The verdict line is
// the slot signature, so identical observations dedup naturally.
type Agent struct {
	client   *resty.Client
	complete completionFn
	log      logx.Logger
}

func NewAgent(opts Options, log logx.Logger) (*Agent, error) {
	_ = opts
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("agent checker requires OPENAI_API_KEY")
	}
	oc := openai.NewClient(option.WithAPIKey(apiKey))

	fetch := resty.New().
		SetTimeout(fetchTimeout).
		SetRetryCount(fetchRetries - 1).
		SetRetryWaitTime(fetchWait).
		SetHeader("User-Agent", "dmvwatch/1.0")

	return &Agent{
		client: fetch,
		complete: func(ctx context.Context, system, user string) (string, error) {
			resp, err := oc.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
				Model: openai.ChatModelGPT4oMini,
				Messages: []openai.ChatCompletionMessageParamUnion{
					openai.SystemMessage(system),
					openai.UserMessage(user),
				},
			})
			if err != nil {
				return "", err
			}
			if len(resp.Choices) == 0 {
				return "", errors.New("no choices returned")
			}
			return resp.Choices[0].Message.Content, nil
		},
		log: log,
	}, nil
}

func (a *Agent) Check(ctx context.Context, office Office) (Result, error) {
	var excerpt string
	if strings.TrimSpace(office.URL) != "" {
		text, err := fetchPageText(ctx, a.client, office.URL)
		if err != nil {
			return Result{}, fmt.Errorf("fetch %s: %w", office.Name, err)
		}
		if len(text) > agentExcerptCap {
			text = text[:agentExcerptCap]
		}
		excerpt = text
	}

	user := "Office: " + office.Name + "."
	if office.URL != "" {
		user += " The office URL is: " + office.URL + "."
	}
	if excerpt != "" {
		user += "\n\nPage text:\n" + excerpt
	}

	start := time.Now()
	out, err := a.complete(ctx, agentSystemPrompt, user)
	if err != nil {
		return Result{}, fmt.Errorf("agent verdict for %s: %w", office.Name, err)
	}
	a.log.Debug("agent verdict", logx.String("office", office.Name), logx.Duration("took", time.Since(start)))

	verdict := strings.TrimSpace(out)
	available := strings.HasPrefix(strings.ToUpper(verdict), "AVAILABLE")

	var slots []Slot
	if available {
		label := verdict
		if len(label) > agentVerdictCap {
			label = label[:agentVerdictCap]
		}
		slots = append(slots, Slot{Label: label})
	}

	return Result{
		Office:    office,
		Available: available,
		Slots:     slots,
		Raw:       verdict,
	}, nil
}
