package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPattern_PlainText(t *testing.T) {
	segs, err := SplitPattern("no expressions here")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.False(t, segs[0].Expr)
	assert.Equal(t, "no expressions here", segs[0].Text)
}

func TestSplitPattern_MixedRuns(t *testing.T) {
	segs, err := SplitPattern("a {{x}} b {{y}} c")
	require.NoError(t, err)
	require.Len(t, segs, 5)
	assert.Equal(t, []Segment{
		{Text: "a "},
		{Text: "x", Expr: true},
		{Text: " b "},
		{Text: "y", Expr: true},
		{Text: " c"},
	}, segs)
}

func TestSplitPattern_NestedSpans(t *testing.T) {
	segs, err := SplitPattern("{{switch[@a]x:{{inner}}|default:none}}")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.True(t, segs[0].Expr)
	assert.Equal(t, "switch[@a]x:{{inner}}|default:none", segs[0].Text)
}

func TestSplitPattern_Unterminated(t *testing.T) {
	_, err := SplitPattern("bad {{foo")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestSplitPattern_Empty(t *testing.T) {
	segs, err := SplitPattern("")
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestClassify_Dice(t *testing.T) {
	x, err := Classify("dice:4d6k3+2")
	require.NoError(t, err)
	assert.Equal(t, KindDice, x.Kind)
	assert.Equal(t, "4d6k3+2", x.Body)
}

func TestClassify_Math(t *testing.T) {
	x, err := Classify("math: (@monster.cr + 2) * 3")
	require.NoError(t, err)
	assert.Equal(t, KindMath, x.Kind)
	assert.Equal(t, "(@monster.cr + 2) * 3", x.Body)
}

func TestClassify_PlainReference(t *testing.T) {
	x, err := Classify("monster")
	require.NoError(t, err)
	assert.Equal(t, KindReference, x.Kind)
	assert.Equal(t, "monster", x.Name)
	assert.Equal(t, 1, x.Count)
	assert.False(t, x.Unique)
}

func TestClassify_AliasedReference(t *testing.T) {
	x, err := Classify("loot.weapon")
	require.NoError(t, err)
	assert.Equal(t, KindReference, x.Kind)
	assert.Equal(t, "loot", x.Alias)
	assert.Equal(t, "weapon", x.Name)
}

func TestClassify_InstanceReference(t *testing.T) {
	x, err := Classify("npc#villain")
	require.NoError(t, err)
	assert.Equal(t, "npc", x.Name)
	assert.Equal(t, "villain", x.Instance)
}

func TestClassify_PropertyChain(t *testing.T) {
	x, err := Classify("monster.@lair.@treasure")
	require.NoError(t, err)
	assert.Equal(t, KindReference, x.Kind)
	assert.Equal(t, "monster", x.Name)
	assert.Equal(t, []string{"lair", "treasure"}, x.Props)
}

func TestClassify_MultiRoll(t *testing.T) {
	x, err := Classify("3*monster")
	require.NoError(t, err)
	assert.Equal(t, KindReference, x.Kind)
	assert.Equal(t, 3, x.Count)
	assert.Equal(t, "monster", x.Name)
}

func TestClassify_UniqueStacksWithCountEitherOrder(t *testing.T) {
	a, err := Classify("3*unique:monster")
	require.NoError(t, err)
	b, err2 := Classify("unique:3*monster")
	require.NoError(t, err2)

	for _, x := range []*Expr{a, b} {
		assert.Equal(t, 3, x.Count)
		assert.True(t, x.Unique)
		assert.Equal(t, "monster", x.Name)
	}
}

func TestClassify_ZeroCountRejected(t *testing.T) {
	_, err := Classify("0*monster")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestClassify_Again(t *testing.T) {
	x, err := Classify("again")
	require.NoError(t, err)
	assert.Equal(t, KindAgain, x.Kind)

	x, err = Classify("2*again")
	require.NoError(t, err)
	assert.Equal(t, KindAgain, x.Kind)
	assert.Equal(t, 2, x.Count)
}

func TestClassify_Variable(t *testing.T) {
	x, err := Classify("$loot")
	require.NoError(t, err)
	assert.Equal(t, KindVariable, x.Kind)
	assert.Equal(t, "loot", x.VarName)
	assert.Equal(t, -1, x.Index)

	x, err = Classify("$loot.2")
	require.NoError(t, err)
	assert.Equal(t, 2, x.Index)

	x, err = Classify("$loot.1.@rarity")
	require.NoError(t, err)
	assert.Equal(t, 1, x.Index)
	assert.Equal(t, "rarity", x.VarProp)

	x, err = Classify("$loot.@rarity")
	require.NoError(t, err)
	assert.Equal(t, -1, x.Index)
	assert.Equal(t, "rarity", x.VarProp)
}

func TestClassify_Placeholder(t *testing.T) {
	x, err := Classify("@monster.cr")
	require.NoError(t, err)
	assert.Equal(t, KindPlaceholder, x.Kind)
	assert.Equal(t, "monster", x.Name)
	assert.Equal(t, []string{"cr"}, x.Props)

	x, err = Classify("@mood")
	require.NoError(t, err)
	assert.Equal(t, "mood", x.Name)
	assert.Empty(t, x.Props)
}

func TestClassify_Capture(t *testing.T) {
	x, err := Classify("3*treasure >> $loot")
	require.NoError(t, err)
	assert.Equal(t, KindCapture, x.Kind)
	assert.Equal(t, "3*treasure", x.Inner)
	assert.Equal(t, "loot", x.Capture)
}

func TestClassify_CaptureWithoutDollarRejected(t *testing.T) {
	_, err := Classify("3*treasure >> loot")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestClassify_Collect(t *testing.T) {
	x, err := Classify("collect:$loot.@value")
	require.NoError(t, err)
	assert.Equal(t, KindCollect, x.Kind)
	assert.Equal(t, "loot", x.CollectVar)
	assert.Equal(t, "value", x.CollectProp)
	assert.False(t, x.CollectUnique)
}

func TestClassify_CollectUniqueWithSeparator(t *testing.T) {
	x, err := Classify("collect:unique:$loot.@rarity:sep= / ")
	require.NoError(t, err)
	assert.True(t, x.CollectUnique)
	assert.Equal(t, "rarity", x.CollectProp)
	assert.Equal(t, " / ", x.Separator)
}

func TestClassify_Conditional(t *testing.T) {
	x, err := Classify("switch[@door.state]open:walk in|locked:{{pickLock}}|default:knock")
	require.NoError(t, err)
	assert.Equal(t, KindConditional, x.Kind)
	assert.Equal(t, "@door.state", x.Subject)
	require.Len(t, x.Cases, 2)
	assert.Equal(t, CondCase{Match: "open", Pattern: "walk in"}, x.Cases[0])
	assert.Equal(t, CondCase{Match: "locked", Pattern: "{{pickLock}}"}, x.Cases[1])
	assert.True(t, x.HasDefault)
	assert.Equal(t, "knock", x.Default)
}

func TestClassify_ConditionalCaseWithNestedColon(t *testing.T) {
	// The colon inside the nested dice span must not split the case.
	x, err := Classify("switch[@tier]boss:{{dice:2d10}} hp|default:weak")
	require.NoError(t, err)
	require.Len(t, x.Cases, 1)
	assert.Equal(t, "boss", x.Cases[0].Match)
	assert.Equal(t, "{{dice:2d10}} hp", x.Cases[0].Pattern)
}

func TestClassify_PriorityConditionalOverDice(t *testing.T) {
	// "switch[" anywhere wins classification even with a dice: prefix inside.
	x, err := Classify("switch[@x]a:{{dice:d6}}|default:n")
	require.NoError(t, err)
	assert.Equal(t, KindConditional, x.Kind)
}

func TestClassify_EmptyExpression(t *testing.T) {
	_, err := Classify("   ")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}
