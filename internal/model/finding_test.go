package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindingMetaValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		kind    FindingKind
		meta    FindingMeta
		wantErr bool
	}{
		{"empty meta any kind", FindingRecommendation, FindingMeta{}, false},
		{"feature on common", FindingCommonFeature, FindingMeta{Feature: &FeatureMeta{Count: 3}}, false},
		{"feature on differentiator", FindingDifferentiator, FindingMeta{Feature: &FeatureMeta{Count: 1}}, false},
		{"gap on gap", FindingGap, FindingMeta{Gap: &GapMeta{Keyword: "sso"}}, false},
		{"pricing on insight", FindingInsight, FindingMeta{Pricing: &PricingMeta{Min: 10, Max: 50}}, false},
		{"change on risk", FindingRisk, FindingMeta{Change: &ChangeMeta{Severity: "high"}}, false},
		{"gap on insight", FindingInsight, FindingMeta{Gap: &GapMeta{}}, true},
		{"two variants", FindingInsight, FindingMeta{Pricing: &PricingMeta{}, Market: &MarketMeta{}}, true},
		{"unknown kind", FindingKind("OTHER"), FindingMeta{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.meta.Validate(tt.kind)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEncodeDecodeMeta(t *testing.T) {
	t.Parallel()

	meta := FindingMeta{Feature: &FeatureMeta{Category: "Integrations", Normalized: "stripe", Count: 5}}
	data, err := EncodeMeta(FindingCommonFeature, meta)
	require.NoError(t, err)

	got, err := DecodeMeta(FindingCommonFeature, data)
	require.NoError(t, err)
	require.NotNil(t, got.Feature)
	assert.Equal(t, 5, got.Feature.Count)

	_, err = DecodeMeta(FindingGap, data)
	assert.Error(t, err)

	_, err = EncodeMeta(FindingGap, meta)
	assert.Error(t, err)

	empty, err := DecodeMeta(FindingInsight, nil)
	require.NoError(t, err)
	assert.Nil(t, empty.Pricing)
}

func TestFindingHelpers(t *testing.T) {
	t.Parallel()

	assert.True(t, Finding{Kind: FindingCommonFeature}.NeedsCitation())
	assert.True(t, Finding{Kind: FindingDifferentiator}.NeedsCitation())
	assert.False(t, Finding{Kind: FindingGap}.NeedsCitation())
	assert.True(t, Finding{Kind: FindingInsight, Meta: FindingMeta{Pricing: &PricingMeta{}}}.PricingRelated())
	assert.False(t, Finding{Kind: FindingInsight}.PricingRelated())
}
