package runtime

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	v1 "github.com/kandev/personaorch/pkg/api/v1"
)

// Bedrock is a Provider for Amazon Bedrock's ConverseStream API. Region is
// applied to every session it opens; authentication follows the AWS SDK v2
// default credential chain (environment, shared config, IAM role).
type Bedrock struct {
	Region string
}

// NewBedrock returns a Bedrock provider scoped to region. An empty region
// falls back to the SDK's default resolution (AWS_DEFAULT_REGION, profile).
func NewBedrock(region string) *Bedrock {
	return &Bedrock{Region: region}
}

func (b *Bedrock) Name() string { return "bedrock" }

func (b *Bedrock) newClient(ctx context.Context) (*bedrockruntime.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if b.Region != "" {
		opts = append(opts, awsconfig.WithRegion(b.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

func (b *Bedrock) Stream(ctx context.Context, profile v1.PersonaProfile, messages []Message) (<-chan Chunk, error) {
	client, err := b.newClient(ctx)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(profile.Model),
	}

	var convMessages []types.Message
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
		case RoleUser:
			convMessages = append(convMessages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		case RoleAssistant:
			convMessages = append(convMessages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	input.Messages = convMessages

	temp := float32(profile.Temperature)
	input.InferenceConfig = &types.InferenceConfiguration{Temperature: &temp}

	resp, err := client.ConverseStream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock: ConverseStream: %w", err)
	}

	chunks := make(chan Chunk, 64)
	go func() {
		defer close(chunks)
		stream := resp.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				if d, ok := ev.Value.Delta.(*types.ContentBlockDeltaMemberText); ok {
					chunks <- Chunk{Content: d.Value}
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				chunks <- Chunk{Done: true}
			}
		}
	}()
	return chunks, nil
}

func (b *Bedrock) Health(ctx context.Context, profile v1.PersonaProfile) error {
	_, err := b.newClient(ctx)
	if err != nil {
		return err
	}
	return nil
}
