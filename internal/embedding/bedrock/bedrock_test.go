package bedrock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthai/internal/domain"
)

type fakeRuntime struct {
	inputs []titanRequest
	models []string
	err    error
}

func (f *fakeRuntime) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	var req titanRequest
	if err := json.Unmarshal(params.Body, &req); err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, req)
	f.models = append(f.models, aws.ToString(params.ModelId))
	body, _ := json.Marshal(titanResponse{Embedding: []float32{float32(len(req.InputText)), 1}, InputTextTokenCount: 2})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func TestEmbed_OneCallPerText(t *testing.T) {
	rt := &fakeRuntime{}
	e := New(rt, Config{Dimensions: 512, Normalize: true})

	vecs, err := e.Embed(context.Background(), []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, []domain.Vector{{2, 1}, {4, 1}}, vecs)
	require.Len(t, rt.inputs, 2)
	assert.Equal(t, 512, rt.inputs[0].Dimensions)
	assert.True(t, rt.inputs[0].Normalize)
	assert.Equal(t, DefaultModel, rt.models[0])
	assert.Equal(t, DefaultModel, e.ModelName())
}

func TestEmbed_MapsThrottling(t *testing.T) {
	e := New(&fakeRuntime{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}, Config{})
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestEmbed_MapsServiceErrors(t *testing.T) {
	e := New(&fakeRuntime{err: &smithy.GenericAPIError{Code: "ModelNotReadyException"}}, Config{})
	_, err := e.Embed(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, domain.ErrBackendUnavailable)
}
