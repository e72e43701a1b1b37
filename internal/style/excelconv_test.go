package style

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestToExcelStyle_OnlyPresentLeavesAreEmitted(t *testing.T) {
	d := Descriptor{Font: Font{Bold: present(true)}}

	xl := ToExcelStyle(d)

	require.NotNil(t, xl.Font)
	require.True(t, xl.Font.Bold)
	require.Nil(t, xl.Alignment)
	require.Empty(t, xl.Border)
}

func TestToExcelStyle_FillPattern(t *testing.T) {
	d := Descriptor{Fill: Fill{State: Present, Kind: FillKindPattern, PatternType: present("solid"), FG: present("#FFFF0000")}}

	xl := ToExcelStyle(d)

	require.Equal(t, "solid", xl.Fill.Type)
	require.Equal(t, []string{"#FFFF0000"}, xl.Fill.Color)
}

func TestToExcelStyle_Borders(t *testing.T) {
	d := Descriptor{Borders: Borders{
		Top: BorderSide{Style: present("thin"), Color: present("#FF000000")},
	}}

	xl := ToExcelStyle(d)

	require.Len(t, xl.Border, 1)
	require.Equal(t, "top", xl.Border[0].Type)
	require.Equal(t, "#FF000000", xl.Border[0].Color)
}

func TestFromExcelStyle_ReadsPresentLeaves(t *testing.T) {
	code := "0.00%"
	xl := &excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "FF0000"},
		Alignment: &excelize.Alignment{Horizontal: "center", WrapText: true},
		CustomNumFmt: &code,
	}

	d := FromExcelStyle(xl)

	require.True(t, d.Font.Bold.Equal(present(true)))
	require.True(t, d.Font.Size.Equal(present(11.0)))
	require.Equal(t, "center", d.Alignment.Horizontal.Value)
	require.True(t, d.Alignment.WrapText.Equal(present(true)))
	require.Equal(t, code, d.NumberFormat.Code.Value)
}

func TestFromExcelStyle_NilIsZeroDescriptor(t *testing.T) {
	d := FromExcelStyle(nil)
	require.Equal(t, Descriptor{}, d)
}

func TestStyleRoundTrip_PresentLeavesSurviveToExcelAndBack(t *testing.T) {
	d := Descriptor{
		Font: Font{Bold: present(true), Size: present(12.0), Color: present("#FF112233")},
	}

	xl := ToExcelStyle(d)
	back := FromExcelStyle(xl)

	require.True(t, back.Font.Bold.Equal(d.Font.Bold))
	require.True(t, back.Font.Size.Equal(d.Font.Size))
	require.True(t, back.Font.Color.Equal(d.Font.Color))
}
