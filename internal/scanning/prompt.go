package scanning

// receiptScanPrompt is the shared prompt used by all vision providers
const receiptScanPrompt = `You are reading a photo of a purchase receipt. Extract the following information:

1. **Vendor**: the merchant, store or business name, usually printed at the top of the receipt. Examples: "Shell", "Trader Joe's", "Delta Air Lines".

2. **Total Amount**: the final total paid, usually labeled "TOTAL", "Amount Due" or "Grand Total". Extract only the number (e.g., 42.75 for $42.75).

3. **Date**: the transaction date, converted to YYYY-MM-DD.

Return ONLY valid JSON in this exact format:
{
  "vendor": "Store Name",
  "amount": 0.00,
  "date": "YYYY-MM-DD"
}

Important:
- The amount must be a number, representing dollars and cents
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON`

// scanSystemPrompt primes chat-style providers before the user turn
const scanSystemPrompt = "You are an expert at reading receipts. You carefully read all text in images and extract accurate information."
